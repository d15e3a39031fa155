// Package worker provides background workers for the control plane.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/pkg/types"
)

// SweepStore defines the storage interface for the offline sweep.
type SweepStore interface {
	// ListStaleMachines returns active machines whose last heartbeat is
	// older than the cutoff.
	ListStaleMachines(ctx context.Context, cutoff time.Time) ([]types.Machine, error)

	// SetMachineStatus updates a machine's status.
	SetMachineStatus(ctx context.Context, id string, status types.MachineStatus) error

	// CreateAlert inserts a new alert.
	CreateAlert(ctx context.Context, a *types.Alert) error
}

// OfflineSweepConfig holds configuration for the offline sweep.
type OfflineSweepConfig struct {
	// Interval between sweep runs.
	Interval time.Duration

	// OfflineThreshold is how long a machine may go without a heartbeat
	// before it is marked offline.
	OfflineThreshold time.Duration
}

// DefaultOfflineSweepConfig returns sensible defaults.
func DefaultOfflineSweepConfig() OfflineSweepConfig {
	return OfflineSweepConfig{
		Interval:         1 * time.Minute,
		OfflineThreshold: 5 * time.Minute,
	}
}

// OfflineSweep demotes machines without recent heartbeats. It is the only
// path into the offline status; heartbeats are the only path back out.
type OfflineSweep struct {
	store    SweepStore
	notifier notify.Notifier
	config   OfflineSweepConfig
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewOfflineSweep creates an offline sweep worker.
func NewOfflineSweep(store SweepStore, notifier notify.Notifier, config OfflineSweepConfig, logger *slog.Logger) *OfflineSweep {
	return &OfflineSweep{
		store:    store,
		notifier: notifier,
		config:   config,
		logger:   logger.With("component", "offline_sweep"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep in a goroutine.
func (w *OfflineSweep) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the sweep to stop.
func (w *OfflineSweep) Stop() {
	close(w.stopCh)
}

func (w *OfflineSweep) run(ctx context.Context) {
	w.logger.Info("offline sweep started",
		"interval", w.config.Interval,
		"offline_threshold", w.config.OfflineThreshold,
	)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("offline sweep stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("offline sweep stopping (stop signal)")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass. Failures on one machine never
// prevent processing the rest.
func (w *OfflineSweep) RunOnce(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-w.config.OfflineThreshold)

	machines, err := w.store.ListStaleMachines(ctx, cutoff)
	if err != nil {
		w.logger.Error("listing stale machines", "error", err)
		return
	}

	transitioned := 0
	for _, m := range machines {
		if err := w.demote(ctx, &m, now); err != nil {
			w.logger.Error("demoting machine",
				"machine_id", m.ID,
				"hostname", m.Hostname,
				"error", err,
			)
			continue
		}
		transitioned++
	}

	if transitioned > 0 {
		w.logger.Info("offline sweep complete", "transitioned", transitioned)
	}
}

func (w *OfflineSweep) demote(ctx context.Context, m *types.Machine, now time.Time) error {
	if err := w.store.SetMachineStatus(ctx, m.ID, types.MachineStatusOffline); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}

	status := notify.MachineStatus{
		MachineID: m.ID,
		Hostname:  m.Hostname,
		Status:    string(types.MachineStatusOffline),
	}
	if err := w.notifier.Publish(ctx, notify.TopicMachineStatus, status); err != nil {
		w.logger.Warn("publishing status notification", "machine_id", m.ID, "error", err)
	}

	elapsed := now.Sub(m.LastHeartbeat).Round(time.Second)
	alert := &types.Alert{
		MachineID: m.ID,
		Severity:  types.SeverityWarning,
		Title:     fmt.Sprintf("Machine %s went offline", m.Hostname),
		Description: fmt.Sprintf("No heartbeat from %s for %s (last contact %s).",
			m.Hostname, elapsed, m.LastHeartbeat.Format(time.RFC3339)),
		Status: types.AlertStatusOpen,
	}
	if err := w.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("creating offline alert: %w", err)
	}
	return nil
}
