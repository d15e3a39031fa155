package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guardline/dlp-mon/internal/index"
	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/pkg/types"
)

type mockStore struct {
	events     []*types.Event
	alerts     []*types.Alert
	failEvents bool
}

func (m *mockStore) CreateEvent(ctx context.Context, e *types.Event) error {
	if m.failEvents {
		return fmt.Errorf("store unavailable")
	}
	e.ID = fmt.Sprintf("event-%d", len(m.events)+1)
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) CreateAlert(ctx context.Context, a *types.Alert) error {
	a.ID = fmt.Sprintf("alert-%d", len(m.alerts)+1)
	m.alerts = append(m.alerts, a)
	return nil
}

type mockSettings struct {
	dlpEnabled     bool
	autoEscalation bool
	maxScanLength  int
}

func (m *mockSettings) DLPEnabled(ctx context.Context) (bool, error)     { return m.dlpEnabled, nil }
func (m *mockSettings) AutoEscalation(ctx context.Context) (bool, error) { return m.autoEscalation, nil }
func (m *mockSettings) MaxScanLength(ctx context.Context) (int, error)   { return m.maxScanLength, nil }

type mockNotifier struct {
	published []struct {
		topic   string
		payload any
	}
}

func (m *mockNotifier) Publish(ctx context.Context, topic string, payload any) error {
	m.published = append(m.published, struct {
		topic   string
		payload any
	}{topic, payload})
	return nil
}

func (m *mockNotifier) Close() error { return nil }

type mockIndexQueue struct {
	jobs []*index.Job
}

func (m *mockIndexQueue) Push(ctx context.Context, job *index.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func testPipeline(store *mockStore, notifier *mockNotifier, queue *mockIndexQueue) *Pipeline {
	settings := &mockSettings{dlpEnabled: true, autoEscalation: true, maxScanLength: 10000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(store, settings, notifier, queue, logger)
}

func incoming(eventType, platform, prompt string) types.IncomingEvent {
	return types.IncomingEvent{
		EventType:     eventType,
		Platform:      platform,
		PromptExcerpt: prompt,
		OccurredAt:    time.Now(),
	}
}

func TestProcessBatchEscalatesAndAlertsOnce(t *testing.T) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	queue := &mockIndexQueue{}
	p := testPipeline(store, notifier, queue)

	job := &BatchJob{
		MachineID: "machine-1",
		Hostname:  "LAPTOP-01",
		Events: []types.IncomingEvent{
			incoming("prompt_submitted", "ChatGPT", "what is the weather tomorrow"),
			incoming("prompt_submitted", "ChatGPT", "password: hunter2secret"),
			incoming("prompt_submitted", "", "summarize this meeting"),
		},
	}

	p.ProcessBatch(context.Background(), job)

	if len(store.events) != 3 {
		t.Fatalf("events persisted = %d, want 3", len(store.events))
	}
	if len(store.alerts) != 1 {
		t.Fatalf("alerts created = %d, want 1", len(store.alerts))
	}

	escalated := store.events[1]
	if escalated.Severity != types.SeverityCritical {
		t.Errorf("credential event severity = %q, want critical", escalated.Severity)
	}
	if _, ok := escalated.Metadata["dlp_matches"]; !ok {
		t.Error("credential event missing dlp_matches metadata")
	}

	alert := store.alerts[0]
	if alert.EventID == nil || *alert.EventID != escalated.ID {
		t.Errorf("alert references event %v, want %s", alert.EventID, escalated.ID)
	}
	if alert.Severity != types.SeverityCritical {
		t.Errorf("alert severity = %q, want critical", alert.Severity)
	}

	// One alert-created notification plus one batch summary, in order.
	if len(notifier.published) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.published))
	}
	if notifier.published[0].topic != notify.TopicAlertCreated {
		t.Errorf("first notification topic = %q, want %q", notifier.published[0].topic, notify.TopicAlertCreated)
	}

	last := notifier.published[len(notifier.published)-1]
	if last.topic != notify.TopicBatchSummary {
		t.Fatalf("last notification topic = %q, want %q", last.topic, notify.TopicBatchSummary)
	}
	summary := last.payload.(notify.BatchSummary)
	if summary.AlertsCreated != 1 {
		t.Errorf("summary alertsCreated = %d, want 1", summary.AlertsCreated)
	}
	if summary.EventCount != 3 {
		t.Errorf("summary event count = %d, want 3", summary.EventCount)
	}
	if summary.Platform != "ChatGPT" {
		t.Errorf("summary platform = %q, want ChatGPT", summary.Platform)
	}
}

func TestProcessBatchIsolatesEventFailures(t *testing.T) {
	store := &mockStore{failEvents: true}
	notifier := &mockNotifier{}
	p := testPipeline(store, notifier, &mockIndexQueue{})

	job := &BatchJob{
		MachineID: "machine-1",
		Events: []types.IncomingEvent{
			incoming("prompt_submitted", "Claude", "hello"),
			incoming("prompt_submitted", "Claude", "world"),
		},
	}

	p.ProcessBatch(context.Background(), job)

	// Both events failed, but the batch still completes with a summary.
	if len(notifier.published) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.published))
	}
	summary := notifier.published[0].payload.(notify.BatchSummary)
	if summary.AlertsCreated != 0 {
		t.Errorf("summary alertsCreated = %d, want 0", summary.AlertsCreated)
	}
}

func TestProcessEventEnqueuesIndexJobAfterCommit(t *testing.T) {
	store := &mockStore{}
	queue := &mockIndexQueue{}
	p := testPipeline(store, &mockNotifier{}, queue)

	job := &BatchJob{
		MachineID: "machine-1",
		Events: []types.IncomingEvent{
			{
				EventType:     "prompt_submitted",
				Platform:      "Gemini",
				Domain:        "gemini.google.com",
				ContentHash:   "abc123",
				PromptExcerpt: "harmless question",
				OccurredAt:    time.Now(),
			},
			// No excerpt at all: nothing to index.
			{EventType: "domain_visit", Domain: "chat.openai.com", OccurredAt: time.Now()},
		},
	}

	p.ProcessBatch(context.Background(), job)

	if len(queue.jobs) != 1 {
		t.Fatalf("index jobs = %d, want 1", len(queue.jobs))
	}
	doc := queue.jobs[0].Document
	if doc.EventID != store.events[0].ID {
		t.Errorf("index job event id = %q, want %q", doc.EventID, store.events[0].ID)
	}
	if doc.ContentHash != "abc123" {
		t.Errorf("index doc content hash = %q, want abc123", doc.ContentHash)
	}
	if doc.PromptLength != len("harmless question") {
		t.Errorf("index doc prompt length = %d", doc.PromptLength)
	}
}

func TestProcessEventRespectsDLPDisabled(t *testing.T) {
	store := &mockStore{}
	settings := &mockSettings{dlpEnabled: false, autoEscalation: true, maxScanLength: 10000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(store, settings, &mockNotifier{}, &mockIndexQueue{}, logger)

	job := &BatchJob{
		MachineID: "machine-1",
		Events:    []types.IncomingEvent{incoming("prompt_submitted", "ChatGPT", "password: hunter2secret")},
	}
	p.ProcessBatch(context.Background(), job)

	ev := store.events[0]
	if ev.Severity != types.SeverityInfo {
		t.Errorf("severity = %q, want info with scanning disabled", ev.Severity)
	}
	if _, ok := ev.Metadata["dlp_matches"]; ok {
		t.Error("dlp_matches present with scanning disabled")
	}
}

func TestAlertTitle(t *testing.T) {
	tests := []struct {
		eventType string
		platform  string
		want      string
	}{
		{"blocked_request", "ChatGPT", "Blocked request on ChatGPT"},
		{"prompt_submitted", "", "Prompt submitted"},
		{"", "Claude", "Agent event on Claude"},
	}
	for _, tt := range tests {
		if got := alertTitle(tt.eventType, tt.platform); got != tt.want {
			t.Errorf("alertTitle(%q, %q) = %q, want %q", tt.eventType, tt.platform, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Errorf("truncate = %q, want abcd", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate = %q, want abc", got)
	}
}
