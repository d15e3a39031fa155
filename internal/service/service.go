// Package service contains the business logic for the control plane:
// machine registration, heartbeats, watchdog alerts, deployment telemetry,
// and rule administration.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/internal/secrets"
	"github.com/guardline/dlp-mon/pkg/types"
)

// Sentinel errors the API layer maps to HTTP statuses.
var (
	ErrEnrollmentDenied = errors.New("enrollment key rejected")
	ErrRateLimited      = errors.New("registration rate limit exceeded")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
)

// MachineStore is the machine slice of the primary store.
type MachineStore interface {
	CreateMachine(ctx context.Context, m *types.Machine) error
	GetMachine(ctx context.Context, id string) (*types.Machine, error)
	RecordHeartbeat(ctx context.Context, id, agentVersion string, at time.Time) error
}

// RuleStore is the rule slice of the primary store.
type RuleStore interface {
	CreateRule(ctx context.Context, r *types.Rule) error
	UpdateRule(ctx context.Context, r *types.Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*types.Rule, error)
	CountRules(ctx context.Context) (int, error)
}

// AlertStore is the alert slice of the primary store.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *types.Alert) error
	AcknowledgeAlert(ctx context.Context, id, by string) error
	ResolveAlert(ctx context.Context, id string) error
}

// DeploymentStore records agent self-update telemetry.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, machineID string, report *types.DeploymentReport) (string, error)
}

// AuditRecorder appends audit entries for security-relevant mutations.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, entry *types.AuditEntry) error
}

// Store combines the store slices the service needs. *store.Store
// satisfies it.
type Store interface {
	MachineStore
	RuleStore
	AlertStore
	DeploymentStore
	AuditRecorder
}

// Settings exposes the dynamic knobs the service reads.
type Settings interface {
	TargetAgentVersion(ctx context.Context) (version, downloadURL string, err error)
	ConsumeForceSync(ctx context.Context, machineID string) (bool, error)
}

// Config holds service tunables.
type Config struct {
	// EnrollmentKey gates registration when non-empty.
	EnrollmentKey string

	// RegisterRate and RegisterBurst bound the open registration endpoint.
	RegisterRate  rate.Limit
	RegisterBurst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RegisterRate:  rate.Every(time.Second),
		RegisterBurst: 10,
	}
}

// Service provides business logic operations.
type Service struct {
	store    Store
	settings Settings
	notifier notify.Notifier
	sealer   *secrets.Cipher
	config   Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewService creates a new service.
func NewService(store Store, settings Settings, notifier notify.Notifier, sealer *secrets.Cipher, config Config, logger *slog.Logger) *Service {
	if config.RegisterRate == 0 {
		config.RegisterRate = rate.Every(time.Second)
	}
	if config.RegisterBurst == 0 {
		config.RegisterBurst = 10
	}
	return &Service{
		store:    store,
		settings: settings,
		notifier: notifier,
		sealer:   sealer,
		config:   config,
		limiter:  rate.NewLimiter(config.RegisterRate, config.RegisterBurst),
		logger:   logger,
	}
}

// Sealer returns the cipher used for machine HMAC secrets, needed by the
// auth middleware to open sealed secrets.
func (s *Service) Sealer() *secrets.Cipher {
	return s.sealer
}

func (s *Service) audit(ctx context.Context, entry *types.AuditEntry) {
	if err := s.store.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("recording audit entry", "category", entry.Category, "action", entry.Action, "error", err)
	}
}
