package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// RULES
// =============================================================================

// CreateRule inserts a new rule at version 1.
func (s *Store) CreateRule(ctx context.Context, r *types.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	condJSON, err := encodeCondition(r.Condition)
	if err != nil {
		return err
	}
	actionJSON, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("encoding action config: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rules (id, name, category, target, condition_type, condition_value, action_config, priority, enabled, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		r.ID, r.Name, r.Category, r.Target,
		r.Condition.Type, condJSON, actionJSON,
		r.Priority, r.Enabled, r.Version, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// UpdateRule saves a rule mutation. The stored version advances by exactly
// one; the caller's Version field is updated to the new value.
func (s *Store) UpdateRule(ctx context.Context, r *types.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	condJSON, err := encodeCondition(r.Condition)
	if err != nil {
		return err
	}
	actionJSON, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("encoding action config: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE rules
		SET name = $2, category = $3, target = $4,
			condition_type = $5, condition_value = $6, action_config = $7,
			priority = $8, enabled = $9,
			version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at
	`,
		r.ID, r.Name, r.Category, r.Target,
		r.Condition.Type, condJSON, actionJSON,
		r.Priority, r.Enabled,
	).Scan(&r.Version, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("rule %s not found", r.ID)
	}
	return err
}

// DeleteRule removes a rule and records a tombstone in the same
// transaction. The tombstone carries the version the deletion would have
// stamped, so delta-sync clients past the rule's last version still see it.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx, `
		DELETE FROM rules WHERE id = $1 RETURNING version
	`, id).Scan(&version)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO rule_tombstones (rule_id, deleted_at_version, deleted_at)
		VALUES ($1, $2, NOW())
	`, id, version+1); err != nil {
		return fmt.Errorf("recording tombstone: %w", err)
	}

	return tx.Commit(ctx)
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*types.Rule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, category, target, condition_type, condition_value, action_config, priority, enabled, version, created_at, updated_at
		FROM rules WHERE id = $1
	`, id)

	r, err := scanRule(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListEnabledRulesSince returns enabled rules with version above the
// watermark, ordered by priority descending with creation order and then
// id as tie-breaks.
func (s *Store) ListEnabledRulesSince(ctx context.Context, sinceVersion int64) ([]types.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category, target, condition_type, condition_value, action_config, priority, enabled, version, created_at, updated_at
		FROM rules
		WHERE enabled = TRUE AND version > $1
		ORDER BY priority DESC, created_at ASC, id ASC
	`, sinceVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []types.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// ListTombstonesSince returns tombstones recorded above the watermark.
func (s *Store) ListTombstonesSince(ctx context.Context, sinceVersion int64) ([]types.RuleTombstone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, deleted_at_version, deleted_at
		FROM rule_tombstones
		WHERE deleted_at_version > $1
		ORDER BY deleted_at_version ASC
	`, sinceVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tombstones []types.RuleTombstone
	for rows.Next() {
		var t types.RuleTombstone
		if err := rows.Scan(&t.RuleID, &t.DeletedAtVersion, &t.DeletedAt); err != nil {
			return nil, err
		}
		tombstones = append(tombstones, t)
	}
	return tombstones, rows.Err()
}

// CountRules returns the number of rules, used to decide whether default
// seed rules are needed.
func (s *Store) CountRules(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n)
	return n, err
}

func scanRule(row pgx.Row) (*types.Rule, error) {
	var r types.Rule
	var condType types.ConditionType
	var condJSON, actionJSON []byte

	err := row.Scan(
		&r.ID, &r.Name, &r.Category, &r.Target,
		&condType, &condJSON, &actionJSON,
		&r.Priority, &r.Enabled, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Condition, err = types.ParseCondition(condType, condJSON)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if len(actionJSON) > 0 {
		json.Unmarshal(actionJSON, &r.ActionConfig)
	}
	return &r, nil
}

// encodeCondition serializes the meaningful fields of a condition variant.
func encodeCondition(c types.RuleCondition) ([]byte, error) {
	var v any
	switch c.Type {
	case types.ConditionKeyword:
		v = map[string]any{"keywords": c.Keywords, "match_all": c.MatchAll}
	case types.ConditionRegex:
		v = map[string]any{"pattern": c.Pattern, "case_insensitive": c.CaseInsensitive}
	case types.ConditionDomainList:
		v = map[string]any{"domains": c.Domains}
	case types.ConditionContentLength:
		v = map[string]any{"min": c.Min, "max": c.Max}
	default:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
		v = map[string]any{}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding condition: %w", err)
	}
	return data, nil
}
