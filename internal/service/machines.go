package service

import (
	"context"
	"fmt"
	"time"

	"github.com/guardline/dlp-mon/internal/auth"
	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterMachine enrolls a new endpoint and issues its credentials. The
// plaintext API key and HMAC secret appear in the response exactly once.
func (s *Service) RegisterMachine(ctx context.Context, req *types.RegisterRequest, enrollmentKey string) (*types.RegisterResponse, error) {
	if !auth.CheckEnrollmentKey(s.config.EnrollmentKey, enrollmentKey) {
		return nil, ErrEnrollmentDenied
	}
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	machine := &types.Machine{
		Hostname:     req.Hostname,
		OS:           req.OS,
		OSVersion:    req.OSVersion,
		Status:       types.MachineStatusActive,
		AgentVersion: req.AgentVersion,
	}
	if err := machine.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	creds, err := auth.GenerateCredentials()
	if err != nil {
		return nil, fmt.Errorf("issuing credentials: %w", err)
	}

	sealed, err := s.sealer.Seal([]byte(creds.HMACSecret))
	if err != nil {
		return nil, fmt.Errorf("sealing hmac secret: %w", err)
	}

	machine.APIKeyPrefix = creds.Prefix
	machine.APIKeyHash = creds.Hash
	machine.HMACSecretSealed = sealed
	machine.LastHeartbeat = time.Now()

	if err := s.store.CreateMachine(ctx, machine); err != nil {
		return nil, fmt.Errorf("creating machine: %w", err)
	}

	s.logger.Info("machine registered",
		"machine_id", machine.ID,
		"hostname", machine.Hostname,
		"os", machine.OS,
		"agent_version", machine.AgentVersion,
	)
	s.audit(ctx, &types.AuditEntry{
		Category:  "machines",
		Action:    "registered",
		MachineID: machine.ID,
		Details: map[string]any{
			"hostname":      machine.Hostname,
			"os":            machine.OS,
			"agent_version": machine.AgentVersion,
		},
	})

	return &types.RegisterResponse{
		MachineID:  machine.ID,
		APIKey:     creds.APIKey,
		HMACSecret: creds.HMACSecret,
	}, nil
}

// =============================================================================
// HEARTBEAT
// =============================================================================

// ProcessHeartbeat updates machine liveness and answers with the update
// and force-sync directives. The caller passes the machine resolved during
// authentication; its Status still reflects the pre-heartbeat state.
func (s *Service) ProcessHeartbeat(ctx context.Context, machine *types.Machine, hb *types.Heartbeat) (*types.HeartbeatResponse, error) {
	now := time.Now()
	if err := s.store.RecordHeartbeat(ctx, machine.ID, hb.AgentVersion, now); err != nil {
		return nil, fmt.Errorf("recording heartbeat: %w", err)
	}

	if machine.Status != types.MachineStatusActive {
		status := notify.MachineStatus{
			MachineID: machine.ID,
			Hostname:  machine.Hostname,
			Status:    string(types.MachineStatusActive),
		}
		if err := s.notifier.Publish(ctx, notify.TopicMachineStatus, status); err != nil {
			s.logger.Warn("publishing status notification", "machine_id", machine.ID, "error", err)
		}
		s.logger.Info("machine back online", "machine_id", machine.ID, "hostname", machine.Hostname)
	}

	resp := &types.HeartbeatResponse{}

	forceSync, err := s.settings.ConsumeForceSync(ctx, machine.ID)
	if err != nil {
		s.logger.Warn("reading force-sync flag", "machine_id", machine.ID, "error", err)
	}
	resp.ForceSyncRules = forceSync

	target, downloadURL, err := s.settings.TargetAgentVersion(ctx)
	if err != nil {
		s.logger.Warn("reading target agent version", "error", err)
	} else if target != "" && compareVersions(target, hb.AgentVersion) > 0 {
		resp.UpdateAvailable = &types.UpdateAvailable{
			Version:     target,
			DownloadURL: downloadURL,
		}
	}

	return resp, nil
}

// =============================================================================
// DEPLOYMENTS
// =============================================================================

// RecordDeployment stores agent self-update telemetry.
func (s *Service) RecordDeployment(ctx context.Context, machine *types.Machine, report *types.DeploymentReport) (string, error) {
	if err := report.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	id, err := s.store.CreateDeployment(ctx, machine.ID, report)
	if err != nil {
		return "", fmt.Errorf("recording deployment: %w", err)
	}

	s.logger.Info("deployment reported",
		"machine_id", machine.ID,
		"version", report.Version,
		"status", report.Status,
	)
	return id, nil
}

// =============================================================================
// WATCHDOG
// =============================================================================

// watchdogSeverities maps watchdog alert types to alert severities.
// Unknown types default to warning.
var watchdogSeverities = map[string]types.Severity{
	"binary_tampered":  types.SeverityCritical,
	"binary_missing":   types.SeverityCritical,
	"config_tampered":  types.SeverityCritical,
	"agent_stopped":    types.SeverityWarning,
	"agent_restarted":  types.SeverityWarning,
	"watchdog_started": types.SeverityWarning,
}

// ProcessWatchdogAlert records an alert from the agent watchdog.
func (s *Service) ProcessWatchdogAlert(ctx context.Context, machine *types.Machine, wa *types.WatchdogAlert) error {
	if wa.AlertType == "" {
		return fmt.Errorf("%w: alert_type is required", ErrInvalidRequest)
	}

	severity, ok := watchdogSeverities[wa.AlertType]
	if !ok {
		severity = types.SeverityWarning
	}

	alert := &types.Alert{
		MachineID:   machine.ID,
		Severity:    severity,
		Title:       fmt.Sprintf("Watchdog: %s on %s", wa.AlertType, machine.Hostname),
		Description: wa.Message,
		Status:      types.AlertStatusOpen,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("creating watchdog alert: %w", err)
	}

	created := notify.AlertCreated{
		AlertID:   alert.ID,
		MachineID: machine.ID,
		Severity:  string(severity),
		Title:     alert.Title,
	}
	if err := s.notifier.Publish(ctx, notify.TopicAlertCreated, created); err != nil {
		s.logger.Warn("publishing alert notification", "alert_id", alert.ID, "error", err)
	}

	s.audit(ctx, &types.AuditEntry{
		Category:  "watchdog",
		Action:    wa.AlertType,
		MachineID: machine.ID,
		Details: map[string]any{
			"source":  wa.Source,
			"message": wa.Message,
		},
	})
	return nil
}

// =============================================================================
// ALERT REVIEW
// =============================================================================

// AcknowledgeAlert marks an open alert as acknowledged by a reviewer.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, reviewer string) error {
	return s.store.AcknowledgeAlert(ctx, alertID, reviewer)
}

// ResolveAlert closes an alert.
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	return s.store.ResolveAlert(ctx, alertID)
}
