// Package store provides database access for the control plane.
//
// # Design
//
// The store uses raw SQL with pgx. Lookups return (nil, nil) when no row
// matches; callers decide whether that is an error.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guardline/dlp-mon/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// MACHINES
// =============================================================================

// CreateMachine registers a new machine.
func (s *Store) CreateMachine(ctx context.Context, m *types.Machine) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machines (id, hostname, os, os_version, status, api_key_prefix, api_key_hash, hmac_secret_sealed, agent_version, last_heartbeat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		m.ID, m.Hostname, m.OS, m.OSVersion, m.Status,
		m.APIKeyPrefix, m.APIKeyHash, m.HMACSecretSealed,
		m.AgentVersion, m.LastHeartbeat, m.CreatedAt,
	)
	return err
}

// GetMachine retrieves a machine by ID.
func (s *Store) GetMachine(ctx context.Context, id string) (*types.Machine, error) {
	return s.scanMachine(s.pool.QueryRow(ctx, `
		SELECT id, hostname, os, os_version, status, api_key_prefix, api_key_hash, hmac_secret_sealed, agent_version, last_heartbeat, created_at
		FROM machines WHERE id = $1
	`, id))
}

// GetMachineByKeyPrefix retrieves a machine by its API key prefix.
func (s *Store) GetMachineByKeyPrefix(ctx context.Context, prefix string) (*types.Machine, error) {
	return s.scanMachine(s.pool.QueryRow(ctx, `
		SELECT id, hostname, os, os_version, status, api_key_prefix, api_key_hash, hmac_secret_sealed, agent_version, last_heartbeat, created_at
		FROM machines WHERE api_key_prefix = $1
	`, prefix))
}

func (s *Store) scanMachine(row pgx.Row) (*types.Machine, error) {
	var m types.Machine
	err := row.Scan(
		&m.ID, &m.Hostname, &m.OS, &m.OSVersion, &m.Status,
		&m.APIKeyPrefix, &m.APIKeyHash, &m.HMACSecretSealed,
		&m.AgentVersion, &m.LastHeartbeat, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordHeartbeat updates the machine's liveness fields. Heartbeats are the
// only path back to active.
func (s *Store) RecordHeartbeat(ctx context.Context, id, agentVersion string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE machines
		SET status = $2, agent_version = $3, last_heartbeat = $4
		WHERE id = $1
	`, id, types.MachineStatusActive, agentVersion, at)
	return err
}

// SetMachineStatus updates only the machine's status.
func (s *Store) SetMachineStatus(ctx context.Context, id string, status types.MachineStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE machines SET status = $2 WHERE id = $1
	`, id, status)
	return err
}

// ListStaleMachines returns active machines whose last heartbeat is older
// than the cutoff.
func (s *Store) ListStaleMachines(ctx context.Context, cutoff time.Time) ([]types.Machine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hostname, os, os_version, status, api_key_prefix, api_key_hash, hmac_secret_sealed, agent_version, last_heartbeat, created_at
		FROM machines
		WHERE status = $1 AND last_heartbeat < $2
	`, types.MachineStatusActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var machines []types.Machine
	for rows.Next() {
		var m types.Machine
		if err := rows.Scan(
			&m.ID, &m.Hostname, &m.OS, &m.OSVersion, &m.Status,
			&m.APIKeyPrefix, &m.APIKeyHash, &m.HMACSecretSealed,
			&m.AgentVersion, &m.LastHeartbeat, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}
