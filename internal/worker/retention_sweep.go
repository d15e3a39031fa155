package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardline/dlp-mon/pkg/types"
)

// RetentionStore defines the storage interface for the retention sweep.
type RetentionStore interface {
	// ListEventsBefore returns events older than the cutoff, oldest first.
	ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Event, error)

	// DeleteEvents removes events by id.
	DeleteEvents(ctx context.Context, ids []string) (int64, error)
}

// RetentionSettings exposes the retention window knob.
type RetentionSettings interface {
	RetentionDays(ctx context.Context) (int, error)
}

// IndexDeleter removes index documents for purged events.
type IndexDeleter interface {
	BulkDelete(ctx context.Context, ids []string) error
}

// RetentionSweepConfig holds configuration for the retention sweep.
type RetentionSweepConfig struct {
	// Interval between sweep runs.
	Interval time.Duration

	// BatchSize caps how many events one pass deletes.
	BatchSize int
}

// DefaultRetentionSweepConfig returns sensible defaults.
func DefaultRetentionSweepConfig() RetentionSweepConfig {
	return RetentionSweepConfig{
		Interval:  1 * time.Hour,
		BatchSize: 1000,
	}
}

// RetentionSweep deletes events past the retention window, along with
// their index documents. Index cleanup runs before row deletion so a
// partial failure leaves rows (and their index ids) to retry next pass.
type RetentionSweep struct {
	store    RetentionStore
	settings RetentionSettings
	deleter  IndexDeleter
	config   RetentionSweepConfig
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewRetentionSweep creates a retention sweep worker.
func NewRetentionSweep(store RetentionStore, settings RetentionSettings, deleter IndexDeleter, config RetentionSweepConfig, logger *slog.Logger) *RetentionSweep {
	return &RetentionSweep{
		store:    store,
		settings: settings,
		deleter:  deleter,
		config:   config,
		logger:   logger.With("component", "retention_sweep"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep in a goroutine.
func (w *RetentionSweep) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the sweep to stop.
func (w *RetentionSweep) Stop() {
	close(w.stopCh)
}

func (w *RetentionSweep) run(ctx context.Context) {
	w.logger.Info("retention sweep started", "interval", w.config.Interval)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention sweep stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("retention sweep stopping (stop signal)")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single retention pass.
func (w *RetentionSweep) RunOnce(ctx context.Context) {
	days, err := w.settings.RetentionDays(ctx)
	if err != nil {
		w.logger.Error("reading retention setting", "error", err)
		return
	}
	if days <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	events, err := w.store.ListEventsBefore(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		w.logger.Error("listing expired events", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	eventIDs := make([]string, 0, len(events))
	var indexIDs []string
	for _, e := range events {
		eventIDs = append(eventIDs, e.ID)
		if e.ExternalIndexID != nil {
			indexIDs = append(indexIDs, *e.ExternalIndexID)
		}
	}

	if len(indexIDs) > 0 {
		if err := w.deleter.BulkDelete(ctx, indexIDs); err != nil {
			w.logger.Error("bulk deleting index documents", "count", len(indexIDs), "error", err)
			return
		}
	}

	deleted, err := w.store.DeleteEvents(ctx, eventIDs)
	if err != nil {
		w.logger.Error("deleting expired events", "error", err)
		return
	}

	w.logger.Info("retention sweep complete",
		"deleted", deleted,
		"index_documents", len(indexIDs),
		"cutoff", cutoff.Format(time.RFC3339),
	)
}
