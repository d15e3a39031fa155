package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/guardline/dlp-mon/internal/dlp"
	"github.com/guardline/dlp-mon/internal/index"
	"github.com/guardline/dlp-mon/internal/metrics"
	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/pkg/types"
)

// Store is the slice of the primary store the pipeline needs.
type Store interface {
	CreateEvent(ctx context.Context, e *types.Event) error
	CreateAlert(ctx context.Context, a *types.Alert) error
}

// Settings exposes the dynamic knobs the pipeline reads per batch.
type Settings interface {
	DLPEnabled(ctx context.Context) (bool, error)
	AutoEscalation(ctx context.Context) (bool, error)
	MaxScanLength(ctx context.Context) (int, error)
}

// IndexQueue accepts index jobs for committed events.
type IndexQueue interface {
	Push(ctx context.Context, job *index.Job) error
}

// Pipeline processes accepted event batches: DLP scan, severity
// escalation, persistence, alerting, and index job handoff. Events within
// a batch are independent; one failure never aborts the rest.
type Pipeline struct {
	store      Store
	settings   Settings
	notifier   notify.Notifier
	indexQueue IndexQueue
	logger     *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, settings Settings, notifier notify.Notifier, indexQueue IndexQueue, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		settings:   settings,
		notifier:   notifier,
		indexQueue: indexQueue,
		logger:     logger.With("component", "ingest_pipeline"),
	}
}

// batchConfig is the settings snapshot taken once per batch.
type batchConfig struct {
	dlpEnabled     bool
	autoEscalation bool
	maxScanLength  int
}

// ProcessBatch runs every event of a batch through the pipeline and
// publishes one batch-summary notification.
func (p *Pipeline) ProcessBatch(ctx context.Context, job *BatchJob) {
	cfg := p.snapshotSettings(ctx)

	alertsCreated := 0
	firstPlatform := ""

	for i := range job.Events {
		ev := &job.Events[i]
		if firstPlatform == "" && ev.Platform != "" {
			firstPlatform = ev.Platform
		}

		created, err := p.processEvent(ctx, job.MachineID, ev, cfg)
		if err != nil {
			metrics.EventsProcessed.WithLabelValues("error").Inc()
			p.logger.Error("event processing failed",
				"machine_id", job.MachineID,
				"event_type", ev.EventType,
				"error", err,
			)
			continue
		}
		metrics.EventsProcessed.WithLabelValues("ok").Inc()
		if created {
			alertsCreated++
		}
	}

	summary := notify.BatchSummary{
		MachineID:     job.MachineID,
		Hostname:      job.Hostname,
		EventCount:    len(job.Events),
		AlertsCreated: alertsCreated,
		Platform:      firstPlatform,
	}
	if err := p.notifier.Publish(ctx, notify.TopicBatchSummary, summary); err != nil {
		p.logger.Warn("publishing batch summary", "machine_id", job.MachineID, "error", err)
	}
}

func (p *Pipeline) snapshotSettings(ctx context.Context) batchConfig {
	cfg := batchConfig{dlpEnabled: true, autoEscalation: true, maxScanLength: 10000}

	if v, err := p.settings.DLPEnabled(ctx); err == nil {
		cfg.dlpEnabled = v
	} else {
		p.logger.Warn("reading dlp_enabled setting", "error", err)
	}
	if v, err := p.settings.AutoEscalation(ctx); err == nil {
		cfg.autoEscalation = v
	} else {
		p.logger.Warn("reading auto_escalation setting", "error", err)
	}
	if v, err := p.settings.MaxScanLength(ctx); err == nil && v > 0 {
		cfg.maxScanLength = v
	}
	return cfg
}

// processEvent handles one event. It reports whether an alert was created.
func (p *Pipeline) processEvent(ctx context.Context, machineID string, in *types.IncomingEvent, cfg batchConfig) (bool, error) {
	severity := in.Severity
	if severity == "" {
		severity = types.SeverityInfo
	}

	metadata := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		metadata[k] = v
	}

	if cfg.dlpEnabled && in.PromptExcerpt != "" {
		results := dlp.Scan(truncate(in.PromptExcerpt, cfg.maxScanLength))
		if len(results) > 0 {
			metadata["dlp_matches"] = results
			for category := range results {
				metrics.DLPMatches.WithLabelValues(category).Inc()
			}
			if cfg.autoEscalation && dlp.HasCritical(results) {
				severity = types.SeverityCritical
			}
		}
	}

	event := &types.Event{
		MachineID:  machineID,
		EventType:  in.EventType,
		Platform:   in.Platform,
		Domain:     in.Domain,
		RuleID:     in.RuleID,
		Severity:   severity,
		Metadata:   metadata,
		OccurredAt: occurredOrNow(in.OccurredAt),
	}
	if err := p.store.CreateEvent(ctx, event); err != nil {
		return false, err
	}

	// The event row is committed; everything past this point is
	// best-effort and must not fail the event.
	if in.PromptExcerpt != "" || in.ResponseExcerpt != "" {
		p.enqueueIndexJob(ctx, event, in)
	}

	if severity != types.SeverityWarning && severity != types.SeverityCritical {
		return false, nil
	}

	alert := &types.Alert{
		EventID:     &event.ID,
		MachineID:   machineID,
		RuleID:      in.RuleID,
		Severity:    severity,
		Title:       alertTitle(in.EventType, in.Platform),
		Description: alertDescription(in, metadata),
		Status:      types.AlertStatusOpen,
	}
	if err := p.store.CreateAlert(ctx, alert); err != nil {
		p.logger.Error("creating alert", "event_id", event.ID, "error", err)
		return false, nil
	}
	metrics.AlertsCreated.WithLabelValues(string(severity)).Inc()

	created := notify.AlertCreated{
		AlertID:   alert.ID,
		MachineID: machineID,
		Severity:  string(severity),
		Title:     alert.Title,
	}
	if err := p.notifier.Publish(ctx, notify.TopicAlertCreated, created); err != nil {
		p.logger.Warn("publishing alert notification", "alert_id", alert.ID, "error", err)
	}

	return true, nil
}

func (p *Pipeline) enqueueIndexJob(ctx context.Context, event *types.Event, in *types.IncomingEvent) {
	var ruleIDs []string
	if event.RuleID != nil {
		ruleIDs = append(ruleIDs, *event.RuleID)
	}

	job := &index.Job{
		EventID: event.ID,
		Document: index.Document{
			EventID:        event.ID,
			MachineID:      event.MachineID,
			ContentHash:    in.ContentHash,
			PromptLength:   len(in.PromptExcerpt),
			ResponseLength: len(in.ResponseExcerpt),
			Platform:       event.Platform,
			Domain:         event.Domain,
			Severity:       string(event.Severity),
			RuleIDs:        ruleIDs,
			OccurredAt:     event.OccurredAt,
		},
	}
	if err := p.indexQueue.Push(ctx, job); err != nil {
		p.logger.Error("enqueueing index job", "event_id", event.ID, "error", err)
	}
}

// alertTitle derives a readable title from the event type and platform,
// e.g. "Blocked request on ChatGPT".
func alertTitle(eventType, platform string) string {
	title := strings.ReplaceAll(eventType, "_", " ")
	if title == "" {
		title = "agent event"
	}
	title = strings.ToUpper(title[:1]) + title[1:]
	if platform != "" {
		title += " on " + platform
	}
	return title
}

func alertDescription(in *types.IncomingEvent, metadata map[string]any) string {
	var b strings.Builder
	if in.Domain != "" {
		b.WriteString("Domain: " + in.Domain + ". ")
	}
	if results, ok := metadata["dlp_matches"].(map[string]dlp.CategoryResult); ok && len(results) > 0 {
		b.WriteString("Sensitive data detected: ")
		first := true
		for category := range results {
			if !first {
				b.WriteString(", ")
			}
			b.WriteString(category)
			first = false
		}
		b.WriteString(".")
	}
	return strings.TrimSpace(b.String())
}

// truncate caps content at max runes.
func truncate(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}

// occurredOrNow guards against agents sending zero timestamps past
// validation.
func occurredOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
