// Package types defines the core domain types shared between agents and the control plane.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport; agent-facing
//    field names are part of the wire contract and must not change
// 3. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// MACHINE
// =============================================================================

// Machine represents an enrolled endpoint running the DLP agent.
//
// Credentials are issued once at registration: the plaintext API key is
// returned to the agent and never stored; only its bcrypt hash and a
// 16-character prefix (for O(1) candidate lookup) are persisted. The HMAC
// secret is stored sealed with the control plane's data key.
type Machine struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	OSVersion string `json:"os_version,omitempty"`

	Status MachineStatus `json:"status"`

	// Credential material. APIKeyHash and HMACSecretSealed never leave the server.
	APIKeyPrefix     string `json:"-"`
	APIKeyHash       string `json:"-"`
	HMACSecretSealed []byte `json:"-"`

	AgentVersion  string    `json:"agent_version"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

// MachineStatus represents the liveness state of a machine.
//
// The state machine is unregistered → active ⇄ offline. Only the offline
// sweep can set offline; only a heartbeat can restore active.
type MachineStatus string

const (
	MachineStatusActive  MachineStatus = "active"
	MachineStatusOffline MachineStatus = "offline"
)

// APIKeyPrefixLen is how many leading characters of the API key are stored
// in clear for lookup.
const APIKeyPrefixLen = 16

// Validate checks that the machine has required fields.
func (m *Machine) Validate() error {
	if m.Hostname == "" {
		return fmt.Errorf("machine hostname is required")
	}
	switch m.OS {
	case "windows", "macos":
	default:
		return fmt.Errorf("unsupported os: %q", m.OS)
	}
	return nil
}

// =============================================================================
// EVENT
// =============================================================================

// Event is one agent-observed occurrence (a prompt submission, a blocked
// request, a clipboard capture, ...).
type Event struct {
	ID        string `json:"id"`
	MachineID string `json:"machine_id"`

	EventType string `json:"event_type"`
	Platform  string `json:"platform,omitempty"`
	Domain    string `json:"domain,omitempty"`

	// RuleID is the rule the agent reports as matched, if any.
	RuleID   *string  `json:"rule_id,omitempty"`
	Severity Severity `json:"severity"`

	// Metadata is free-form; the pipeline merges dlp_matches into it when
	// the scanner fires.
	Metadata map[string]any `json:"metadata,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`

	// ExternalIndexID is set once the event's excerpt has been written to
	// the document index.
	ExternalIndexID *string `json:"external_index_id,omitempty"`
}

// Severity orders event and alert impact.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Level returns a numeric rank for severity comparison.
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// =============================================================================
// ALERT
// =============================================================================

// Alert is a human-actionable escalation. An alert is created if and only
// if an event's final severity is warning or critical, at most once per
// triggering event; the offline sweep and the watchdog endpoint create
// alerts without a triggering event.
type Alert struct {
	ID        string  `json:"id"`
	EventID   *string `json:"event_id,omitempty"`
	MachineID string  `json:"machine_id"`
	RuleID    *string `json:"rule_id,omitempty"`

	Severity    Severity    `json:"severity"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      AlertStatus `json:"status"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// AlertStatus tracks the alert review lifecycle.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// =============================================================================
// AGENT WIRE CONTRACTS
// =============================================================================

// RegisterRequest is the body of POST /agents/register.
type RegisterRequest struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	OSVersion    string `json:"os_version,omitempty"`
	AgentVersion string `json:"agent_version"`
}

// RegisterResponse returns the machine's credentials. This is the only
// time the plaintext api_key and hmac_secret are ever transmitted.
type RegisterResponse struct {
	MachineID  string `json:"machine_id"`
	APIKey     string `json:"api_key"`
	HMACSecret string `json:"hmac_secret"`
}

// Heartbeat is the body of POST /agents/heartbeat.
type Heartbeat struct {
	MachineID    string `json:"machine_id"`
	Status       string `json:"status"`
	AgentVersion string `json:"agent_version"`
	QueueSize    int    `json:"queue_size"`
	UptimeSecs   int64  `json:"uptime_secs"`
}

// HeartbeatResponse tells the agent whether to re-sync rules and whether
// a newer agent build is available.
type HeartbeatResponse struct {
	ForceSyncRules  bool             `json:"force_sync_rules"`
	UpdateAvailable *UpdateAvailable `json:"update_available"`
}

// UpdateAvailable describes a newer agent build.
type UpdateAvailable struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
}

// EventBatch is the body of POST /events.
type EventBatch struct {
	MachineID string          `json:"machine_id"`
	Events    []IncomingEvent `json:"events"`
}

// MaxEventBatch is the largest accepted batch; larger batches are
// rejected synchronously.
const MaxEventBatch = 100

// IncomingEvent is one agent-submitted event before processing.
type IncomingEvent struct {
	EventType       string         `json:"event_type"`
	Platform        string         `json:"platform,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	ContentHash     string         `json:"content_hash,omitempty"`
	PromptExcerpt   string         `json:"prompt_excerpt,omitempty"`
	ResponseExcerpt string         `json:"response_excerpt,omitempty"`
	RuleID          *string        `json:"rule_id,omitempty"`
	Severity        Severity       `json:"severity,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Validate checks a single incoming event.
func (e *IncomingEvent) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if e.Severity != "" && !e.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q", e.Severity)
	}
	return nil
}

// DeploymentReport is the body of POST /agents/deployments: agent
// self-update telemetry.
type DeploymentReport struct {
	Version          string     `json:"version"`
	PreviousVersion  string     `json:"previous_version,omitempty"`
	Status           string     `json:"status"`
	DeploymentMethod string     `json:"deployment_method,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	DeployedAt       *time.Time `json:"deployed_at,omitempty"`
}

// Validate checks the deployment report status.
func (d *DeploymentReport) Validate() error {
	if d.Version == "" {
		return fmt.Errorf("version is required")
	}
	switch d.Status {
	case "success", "failed", "pending", "rolled_back":
		return nil
	default:
		return fmt.Errorf("invalid status: %q", d.Status)
	}
}

// WatchdogAlert is the body of POST /watchdog/alerts: the agent watchdog
// reporting tampering or restarts.
type WatchdogAlert struct {
	AlertType    string `json:"alert_type"`
	Message      string `json:"message"`
	Source       string `json:"source"`
	AgentVersion string `json:"agent_version,omitempty"`
}

// MonitoredDomain is one entry of GET /domains/sync.
type MonitoredDomain struct {
	Domain       string `json:"domain"`
	PlatformName string `json:"platform_name"`
	IsBlocked    bool   `json:"is_blocked"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntry records a security-relevant mutation.
type AuditEntry struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	MachineID string         `json:"machine_id,omitempty"`
	RuleID    string         `json:"rule_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DetailsJSON marshals the entry details, returning "{}" on failure.
func (a *AuditEntry) DetailsJSON() []byte {
	data, err := json.Marshal(a.Details)
	if err != nil || data == nil {
		return []byte("{}")
	}
	return data
}
