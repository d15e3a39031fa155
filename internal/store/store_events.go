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
// EVENTS
// =============================================================================

// CreateEvent persists one processed event.
func (s *Store) CreateEvent(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, machine_id, event_type, platform, domain, rule_id, severity, metadata, occurred_at, created_at, external_index_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.ID, e.MachineID, e.EventType, e.Platform, e.Domain,
		e.RuleID, e.Severity, metaJSON, e.OccurredAt, e.CreatedAt, e.ExternalIndexID,
	)
	return err
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	var e types.Event
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, machine_id, event_type, platform, domain, rule_id, severity, metadata, occurred_at, created_at, external_index_id
		FROM events WHERE id = $1
	`, id).Scan(
		&e.ID, &e.MachineID, &e.EventType, &e.Platform, &e.Domain,
		&e.RuleID, &e.Severity, &metaJSON, &e.OccurredAt, &e.CreatedAt, &e.ExternalIndexID,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		json.Unmarshal(metaJSON, &e.Metadata)
	}
	return &e, nil
}

// SetEventIndexID records the document index id after a successful index write.
func (s *Store) SetEventIndexID(ctx context.Context, eventID, indexID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE events SET external_index_id = $2 WHERE id = $1
	`, eventID, indexID)
	return err
}

// ListEventsBefore returns events older than the cutoff, oldest first.
// Only the fields the retention sweep needs are populated.
func (s *Store) ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_index_id
		FROM events
		WHERE occurred_at < $1
		ORDER BY occurred_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.ExternalIndexID); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvents removes events by id and returns the number deleted.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
