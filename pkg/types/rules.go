// Package types - content-policy rules and the canonical agent rule format.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RULE
// =============================================================================

// Rule is one content policy. Every persisted mutation increments Version
// by exactly one; Version is the watermark used for incremental sync.
// Rules are never hard-deleted without a tombstone.
type Rule struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Category RuleCategory `json:"category"`
	Target   RuleTarget   `json:"target"`

	Condition    RuleCondition  `json:"condition"`
	ActionConfig map[string]any `json:"action_config,omitempty"`

	// Priority orders evaluation, higher first. Ties break by creation
	// order, then id.
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleCategory determines what the agent does on match.
type RuleCategory string

const (
	RuleCategoryBlock RuleCategory = "block"
	RuleCategoryAlert RuleCategory = "alert"
	RuleCategoryLog   RuleCategory = "log"
)

// RuleTarget is what part of the interaction the rule inspects.
type RuleTarget string

const (
	RuleTargetPrompt    RuleTarget = "prompt"
	RuleTargetResponse  RuleTarget = "response"
	RuleTargetClipboard RuleTarget = "clipboard"
	RuleTargetDomain    RuleTarget = "domain"
)

// ConditionType discriminates the RuleCondition union.
type ConditionType string

const (
	ConditionKeyword       ConditionType = "keyword"
	ConditionRegex         ConditionType = "regex"
	ConditionDomainList    ConditionType = "domain_list"
	ConditionContentLength ConditionType = "content_length"
)

// RuleCondition is the tagged union of condition variants. Exactly the
// fields for the tagged Type are meaningful; the rest stay zero. Unknown
// types carry their raw value in Raw and are passed through untouched.
type RuleCondition struct {
	Type ConditionType `json:"type"`

	// keyword
	Keywords []string `json:"keywords,omitempty"`
	MatchAll bool     `json:"match_all,omitempty"`

	// regex
	Pattern         string `json:"pattern,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`

	// domain_list
	Domains []string `json:"domains,omitempty"`

	// content_length
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`

	// Raw preserves unrecognized condition payloads verbatim.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Validate checks rule fields and the condition variant.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.Category {
	case RuleCategoryBlock, RuleCategoryAlert, RuleCategoryLog:
	default:
		return fmt.Errorf("invalid rule category: %q", r.Category)
	}
	switch r.Target {
	case RuleTargetPrompt, RuleTargetResponse, RuleTargetClipboard, RuleTargetDomain:
	default:
		return fmt.Errorf("invalid rule target: %q", r.Target)
	}
	return r.Condition.Validate()
}

// Validate checks the condition variant payload.
func (c *RuleCondition) Validate() error {
	switch c.Type {
	case ConditionKeyword:
		if len(c.Keywords) == 0 {
			return fmt.Errorf("keyword condition requires at least one keyword")
		}
	case ConditionRegex:
		if c.Pattern == "" {
			return fmt.Errorf("regex condition requires a pattern")
		}
	case ConditionDomainList:
		if len(c.Domains) == 0 {
			return fmt.Errorf("domain_list condition requires at least one domain")
		}
	case ConditionContentLength:
		if c.Min == nil && c.Max == nil {
			return fmt.Errorf("content_length condition requires min or max")
		}
	case "":
		return fmt.Errorf("condition type is required")
	}
	return nil
}

// ParseCondition decodes a stored condition_value document into the tagged
// union, tolerating the legacy shapes older dashboards wrote:
// keyword lists as comma-separated strings, domain lists split on commas
// or newlines, and content_length min_length/max_length field names.
func ParseCondition(condType ConditionType, raw json.RawMessage) (RuleCondition, error) {
	c := RuleCondition{Type: condType}
	if len(raw) == 0 {
		return c, nil
	}

	switch condType {
	case ConditionKeyword:
		var v struct {
			Keywords json.RawMessage `json:"keywords"`
			MatchAll bool            `json:"match_all"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return c, fmt.Errorf("decoding keyword condition: %w", err)
		}
		c.Keywords = splitList(v.Keywords, ",")
		c.MatchAll = v.MatchAll

	case ConditionRegex:
		var v struct {
			Pattern         string `json:"pattern"`
			CaseInsensitive bool   `json:"case_insensitive"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return c, fmt.Errorf("decoding regex condition: %w", err)
		}
		c.Pattern = v.Pattern
		c.CaseInsensitive = v.CaseInsensitive

	case ConditionDomainList:
		var v struct {
			Domains json.RawMessage `json:"domains"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return c, fmt.Errorf("decoding domain_list condition: %w", err)
		}
		c.Domains = splitList(v.Domains, ",\n")

	case ConditionContentLength:
		var v struct {
			Min       *int `json:"min"`
			Max       *int `json:"max"`
			MinLength *int `json:"min_length"`
			MaxLength *int `json:"max_length"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return c, fmt.Errorf("decoding content_length condition: %w", err)
		}
		c.Min = v.Min
		if c.Min == nil {
			c.Min = v.MinLength
		}
		c.Max = v.Max
		if c.Max == nil {
			c.Max = v.MaxLength
		}

	default:
		c.Raw = append(json.RawMessage(nil), raw...)
	}

	return c, nil
}

// splitList accepts either a JSON array of strings or a single delimited
// string, returning trimmed non-empty entries.
func splitList(raw json.RawMessage, delims string) []string {
	if len(raw) == 0 {
		return nil
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		items = strings.FieldsFunc(s, func(r rune) bool {
			return strings.ContainsRune(delims, r)
		})
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// =============================================================================
// TOMBSTONES AND SYNC
// =============================================================================

// RuleTombstone marks a deleted rule so delta-sync clients can prune
// their local caches. Tombstones live in the durable rule store.
type RuleTombstone struct {
	RuleID           string    `json:"rule_id"`
	DeletedAtVersion int64     `json:"deleted_at_version"`
	DeletedAt        time.Time `json:"deleted_at"`
}

// AgentRule is the canonical rule shape consumed by agents.
type AgentRule struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   int64          `json:"version"`
	Category  RuleCategory   `json:"category"`
	Target    RuleTarget     `json:"target"`
	Condition AgentCondition `json:"condition"`
	Action    map[string]any `json:"action,omitempty"`
	Priority  int            `json:"priority"`
	Enabled   bool           `json:"enabled"`
}

// AgentCondition is the canonical condition wire format. The field set
// depends on Type; unknown stored types pass their value through in Value.
type AgentCondition struct {
	Type ConditionType `json:"type"`

	Keywords []string `json:"keywords,omitempty"`
	MatchAll *bool    `json:"match_all,omitempty"`

	Pattern         string `json:"pattern,omitempty"`
	CaseInsensitive *bool  `json:"case_insensitive,omitempty"`

	Domains []string `json:"domains,omitempty"`

	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`

	Value json.RawMessage `json:"value,omitempty"`
}

// RuleSyncResponse is the delta feed returned by GET /rules/sync.
// Agents upsert Rules and remove DeletedIDs from their cache, nothing else.
type RuleSyncResponse struct {
	Rules      []AgentRule `json:"rules"`
	DeletedIDs []string    `json:"deleted_ids"`
}
