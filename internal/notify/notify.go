// Package notify publishes best-effort UI notifications.
//
// The dashboard subscribes to alert-created, batch-summary, and
// machine-status topics. Delivery is not guaranteed; publish failures are
// logged and swallowed so notification plumbing can never affect event
// processing.
package notify

import (
	"context"
)

// Topics published by the control plane.
const (
	TopicAlertCreated  = "dlpmon.alerts.created"
	TopicBatchSummary  = "dlpmon.events.batch"
	TopicMachineStatus = "dlpmon.machines.status"
)

// Notifier publishes a JSON-serializable payload to a topic.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}

// AlertCreated is the payload for TopicAlertCreated.
type AlertCreated struct {
	AlertID   string `json:"alert_id"`
	MachineID string `json:"machine_id"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
}

// BatchSummary is the payload published once per processed event batch.
type BatchSummary struct {
	MachineID     string `json:"machine_id"`
	Hostname      string `json:"hostname"`
	EventCount    int    `json:"event_count"`
	AlertsCreated int    `json:"alertsCreated"`
	Platform      string `json:"platform,omitempty"`
}

// MachineStatus is the payload for machine liveness transitions.
type MachineStatus struct {
	MachineID string `json:"machine_id"`
	Hostname  string `json:"hostname"`
	Status    string `json:"status"`
}

// NopNotifier discards all notifications. Used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, topic string, payload any) error { return nil }
func (NopNotifier) Close() error                                                 { return nil }
