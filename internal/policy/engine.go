// Package policy translates stored content-policy rules into the canonical
// wire format consumed by agents and fixes their evaluation order.
//
// Stored condition values are heterogeneous: older dashboards wrote keyword
// lists as comma-separated strings and content_length bounds under legacy
// field names. Translation normalizes all of that so agents only ever see
// one shape per condition type.
package policy

import (
	"sort"

	"github.com/guardline/dlp-mon/pkg/types"
)

// ToAgentFormat translates one rule into the canonical agent shape.
func ToAgentFormat(rule types.Rule) types.AgentRule {
	return types.AgentRule{
		ID:        rule.ID,
		Name:      rule.Name,
		Version:   rule.Version,
		Category:  rule.Category,
		Target:    rule.Target,
		Condition: translateCondition(rule.Condition),
		Action:    rule.ActionConfig,
		Priority:  rule.Priority,
		Enabled:   rule.Enabled,
	}
}

// ToAgentFormatAll translates a batch, filtering to enabled rules and
// ordering by priority descending. Equal priorities keep creation order,
// with id as the final deterministic key.
func ToAgentFormatAll(rules []types.Rule) []types.AgentRule {
	enabled := make([]types.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	SortRules(enabled)

	out := make([]types.AgentRule, len(enabled))
	for i, rule := range enabled {
		out[i] = ToAgentFormat(rule)
	}
	return out
}

// SortRules orders rules for evaluation: priority descending, then
// creation time ascending, then id ascending.
func SortRules(rules []types.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func translateCondition(c types.RuleCondition) types.AgentCondition {
	out := types.AgentCondition{Type: c.Type}

	switch c.Type {
	case types.ConditionKeyword:
		// match_all defaults to false: at-least-one semantics.
		out.Keywords = trimNonEmpty(c.Keywords)
		matchAll := c.MatchAll
		out.MatchAll = &matchAll

	case types.ConditionRegex:
		out.Pattern = c.Pattern
		caseInsensitive := c.CaseInsensitive
		out.CaseInsensitive = &caseInsensitive

	case types.ConditionDomainList:
		out.Domains = trimNonEmpty(c.Domains)

	case types.ConditionContentLength:
		// Always the canonical min/max names, nullable. Content triggers
		// when its length exceeds max or falls below min.
		out.Min = c.Min
		out.Max = c.Max

	default:
		// Unknown types pass through with the type tag.
		out.Value = c.Raw
	}

	return out
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
