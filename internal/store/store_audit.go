package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// AUDIT LOG
// =============================================================================

// RecordAudit appends an audit entry. Optional machine/rule references are
// stored as NULL when empty.
func (s *Store) RecordAudit(ctx context.Context, entry *types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var machineID, ruleID any
	if entry.MachineID != "" {
		machineID = entry.MachineID
	}
	if entry.RuleID != "" {
		ruleID = entry.RuleID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, category, action, machine_id, rule_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID, entry.Category, entry.Action,
		machineID, ruleID, entry.DetailsJSON(), entry.CreatedAt,
	)
	return err
}

// ListAuditEntries returns the most recent audit entries for a category,
// newest first. An empty category returns entries across all categories.
func (s *Store) ListAuditEntries(ctx context.Context, category string, limit int) ([]types.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, action, COALESCE(machine_id::text, ''), COALESCE(rule_id::text, ''), details, created_at
		FROM audit_log
		WHERE $1 = '' OR category = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Action, &e.MachineID, &e.RuleID, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
