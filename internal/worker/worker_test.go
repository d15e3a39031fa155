package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guardline/dlp-mon/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSweepStore struct {
	stale      []types.Machine
	statusSets map[string]types.MachineStatus
	alerts     []*types.Alert
	failStatus map[string]bool
}

func (m *mockSweepStore) ListStaleMachines(ctx context.Context, cutoff time.Time) ([]types.Machine, error) {
	return m.stale, nil
}

func (m *mockSweepStore) SetMachineStatus(ctx context.Context, id string, status types.MachineStatus) error {
	if m.failStatus[id] {
		return fmt.Errorf("database unavailable")
	}
	if m.statusSets == nil {
		m.statusSets = make(map[string]types.MachineStatus)
	}
	m.statusSets[id] = status
	return nil
}

func (m *mockSweepStore) CreateAlert(ctx context.Context, a *types.Alert) error {
	a.ID = fmt.Sprintf("alert-%d", len(m.alerts)+1)
	m.alerts = append(m.alerts, a)
	return nil
}

type recordingNotifier struct {
	topics []string
}

func (n *recordingNotifier) Publish(ctx context.Context, topic string, payload any) error {
	n.topics = append(n.topics, topic)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func TestOfflineSweepDemotesStaleMachines(t *testing.T) {
	store := &mockSweepStore{
		stale: []types.Machine{
			{ID: "m1", Hostname: "LAPTOP-01", Status: types.MachineStatusActive, LastHeartbeat: time.Now().Add(-10 * time.Minute)},
		},
	}
	notifier := &recordingNotifier{}
	sweep := NewOfflineSweep(store, notifier, DefaultOfflineSweepConfig(), testLogger())

	sweep.RunOnce(context.Background())

	if store.statusSets["m1"] != types.MachineStatusOffline {
		t.Errorf("machine status = %q, want offline", store.statusSets["m1"])
	}
	if len(store.alerts) != 1 {
		t.Fatalf("alerts created = %d, want 1", len(store.alerts))
	}
	alert := store.alerts[0]
	if alert.Severity != types.SeverityWarning {
		t.Errorf("alert severity = %q, want warning", alert.Severity)
	}
	if alert.MachineID != "m1" {
		t.Errorf("alert machine = %q, want m1", alert.MachineID)
	}
	if len(notifier.topics) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifier.topics))
	}
}

func TestOfflineSweepIsolatesPerMachineFailures(t *testing.T) {
	store := &mockSweepStore{
		stale: []types.Machine{
			{ID: "m1", Hostname: "LAPTOP-01", LastHeartbeat: time.Now().Add(-10 * time.Minute)},
			{ID: "m2", Hostname: "LAPTOP-02", LastHeartbeat: time.Now().Add(-10 * time.Minute)},
		},
		failStatus: map[string]bool{"m1": true},
	}
	sweep := NewOfflineSweep(store, &recordingNotifier{}, DefaultOfflineSweepConfig(), testLogger())

	sweep.RunOnce(context.Background())

	if _, ok := store.statusSets["m1"]; ok {
		t.Error("failed machine should not have been transitioned")
	}
	if store.statusSets["m2"] != types.MachineStatusOffline {
		t.Errorf("m2 status = %q, want offline", store.statusSets["m2"])
	}
	if len(store.alerts) != 1 {
		t.Errorf("alerts created = %d, want 1 (for m2 only)", len(store.alerts))
	}
}

type mockRetentionStore struct {
	expired []types.Event
	deleted []string
}

func (m *mockRetentionStore) ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Event, error) {
	return m.expired, nil
}

func (m *mockRetentionStore) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	m.deleted = append(m.deleted, ids...)
	return int64(len(ids)), nil
}

type mockRetentionSettings struct{ days int }

func (m *mockRetentionSettings) RetentionDays(ctx context.Context) (int, error) { return m.days, nil }

type mockDeleter struct {
	deleted []string
	fail    bool
}

func (m *mockDeleter) BulkDelete(ctx context.Context, ids []string) error {
	if m.fail {
		return fmt.Errorf("index unreachable")
	}
	m.deleted = append(m.deleted, ids...)
	return nil
}

func TestRetentionSweepDeletesEventsAndDocuments(t *testing.T) {
	indexID := "65f0c0ffee"
	store := &mockRetentionStore{
		expired: []types.Event{
			{ID: "e1", ExternalIndexID: &indexID},
			{ID: "e2"},
		},
	}
	deleter := &mockDeleter{}
	sweep := NewRetentionSweep(store, &mockRetentionSettings{days: 30}, deleter, DefaultRetentionSweepConfig(), testLogger())

	sweep.RunOnce(context.Background())

	if len(store.deleted) != 2 {
		t.Errorf("events deleted = %d, want 2", len(store.deleted))
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != indexID {
		t.Errorf("index documents deleted = %v, want [%s]", deleter.deleted, indexID)
	}
}

func TestRetentionSweepKeepsRowsWhenIndexDeleteFails(t *testing.T) {
	indexID := "65f0c0ffee"
	store := &mockRetentionStore{
		expired: []types.Event{{ID: "e1", ExternalIndexID: &indexID}},
	}
	sweep := NewRetentionSweep(store, &mockRetentionSettings{days: 30}, &mockDeleter{fail: true}, DefaultRetentionSweepConfig(), testLogger())

	sweep.RunOnce(context.Background())

	if len(store.deleted) != 0 {
		t.Errorf("events deleted = %d, want 0 after index failure", len(store.deleted))
	}
}

func TestRetentionSweepDisabledWhenZeroDays(t *testing.T) {
	store := &mockRetentionStore{expired: []types.Event{{ID: "e1"}}}
	sweep := NewRetentionSweep(store, &mockRetentionSettings{days: 0}, &mockDeleter{}, DefaultRetentionSweepConfig(), testLogger())

	sweep.RunOnce(context.Background())

	if len(store.deleted) != 0 {
		t.Errorf("events deleted = %d, want 0 when retention disabled", len(store.deleted))
	}
}
