package service

import (
	"context"
	"fmt"

	"github.com/guardline/dlp-mon/internal/dlp"
	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// RULE ADMINISTRATION
// =============================================================================

// CreateRule persists a new rule and audits the mutation.
func (s *Service) CreateRule(ctx context.Context, rule *types.Rule) error {
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "category", rule.Category)
	s.audit(ctx, &types.AuditEntry{
		Category: "rules",
		Action:   "created",
		RuleID:   rule.ID,
		Details:  map[string]any{"name": rule.Name, "category": string(rule.Category)},
	})
	return nil
}

// UpdateRule saves a rule mutation, advancing its version, and audits it.
func (s *Service) UpdateRule(ctx context.Context, rule *types.Rule) error {
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("rule updated", "rule_id", rule.ID, "version", rule.Version)
	s.audit(ctx, &types.AuditEntry{
		Category: "rules",
		Action:   "updated",
		RuleID:   rule.ID,
		Details:  map[string]any{"name": rule.Name, "version": rule.Version},
	})
	return nil
}

// DeleteRule removes a rule, records its tombstone, and audits the
// deletion.
func (s *Service) DeleteRule(ctx context.Context, ruleID string) error {
	if err := s.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}

	s.logger.Info("rule deleted", "rule_id", ruleID)
	s.audit(ctx, &types.AuditEntry{
		Category: "rules",
		Action:   "deleted",
		RuleID:   ruleID,
	})
	return nil
}

// EnsureDefaultRules seeds the built-in DLP rules on an empty rule table.
// Installations that already have rules are left untouched.
func (s *Service) EnsureDefaultRules(ctx context.Context) error {
	count, err := s.store.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("counting rules: %w", err)
	}
	if count > 0 {
		return nil
	}

	defaults := dlp.ToDefaultRules()
	for i := range defaults {
		if err := s.store.CreateRule(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seeding rule %q: %w", defaults[i].Name, err)
		}
	}

	s.logger.Info("seeded default rules", "count", len(defaults))
	s.audit(ctx, &types.AuditEntry{
		Category: "rules",
		Action:   "seeded_defaults",
		Details:  map[string]any{"count": len(defaults)},
	})
	return nil
}
