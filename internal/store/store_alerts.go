package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// ALERTS
// =============================================================================

// CreateAlert inserts a new alert. A unique index on event_id guarantees at
// most one alert per triggering event.
func (s *Store) CreateAlert(ctx context.Context, a *types.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = types.AlertStatusOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, event_id, machine_id, rule_id, severity, title, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID, a.EventID, a.MachineID, a.RuleID,
		a.Severity, a.Title, a.Description, a.Status, a.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	var a types.Alert
	var ackBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_id, machine_id, rule_id, severity, title, description, status, created_at, acknowledged_at, acknowledged_by, resolved_at
		FROM alerts WHERE id = $1
	`, id).Scan(
		&a.ID, &a.EventID, &a.MachineID, &a.RuleID,
		&a.Severity, &a.Title, &a.Description, &a.Status,
		&a.CreatedAt, &a.AcknowledgedAt, &ackBy, &a.ResolvedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ackBy != nil {
		a.AcknowledgedBy = *ackBy
	}
	return &a, nil
}

// AcknowledgeAlert moves an open alert to acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET status = $2, acknowledged_at = NOW(), acknowledged_by = $3
		WHERE id = $1 AND status = $4
	`, id, types.AlertStatusAcknowledged, by, types.AlertStatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s is not open", id)
	}
	return nil
}

// ResolveAlert moves an alert to resolved from any non-resolved status.
func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status != $2
	`, id, types.AlertStatusResolved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s is already resolved or missing", id)
	}
	return nil
}

// ListOpenAlerts returns open alerts, newest first.
func (s *Store) ListOpenAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, machine_id, rule_id, severity, title, description, status, created_at, acknowledged_at, acknowledged_by, resolved_at
		FROM alerts
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, types.AlertStatusOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		var a types.Alert
		var ackBy *string
		if err := rows.Scan(
			&a.ID, &a.EventID, &a.MachineID, &a.RuleID,
			&a.Severity, &a.Title, &a.Description, &a.Status,
			&a.CreatedAt, &a.AcknowledgedAt, &ackBy, &a.ResolvedAt,
		); err != nil {
			return nil, err
		}
		if ackBy != nil {
			a.AcknowledgedBy = *ackBy
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
