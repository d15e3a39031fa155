package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// DEPLOYMENT REPORTS
// =============================================================================

// CreateDeployment records agent self-update telemetry and returns the row id.
func (s *Store) CreateDeployment(ctx context.Context, machineID string, report *types.DeploymentReport) (string, error) {
	id := uuid.NewString()

	deployedAt := time.Now()
	if report.DeployedAt != nil {
		deployedAt = *report.DeployedAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployments (id, machine_id, version, previous_version, status, deployment_method, error_message, deployed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`,
		id, machineID, report.Version, report.PreviousVersion,
		report.Status, report.DeploymentMethod, report.ErrorMessage, deployedAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}
