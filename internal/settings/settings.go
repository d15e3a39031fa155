// Package settings provides the Redis-backed key-value store for dynamic
// operational knobs: DLP toggles, the target agent version, retention, and
// per-machine force-sync flags.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dlpmon:settings:"

// Setting keys.
const (
	KeyDLPEnabled         = "dlp_enabled"
	KeyAutoEscalation     = "auto_escalation"
	KeyMaxScanLength      = "max_scan_length"
	KeyTargetAgentVersion = "target_agent_version"
	KeyAgentDownloadURL   = "agent_download_url"
	KeyRetentionDays      = "retention_days"
)

// Defaults applied when a key is unset.
const (
	DefaultMaxScanLength = 10000
	DefaultRetentionDays = 90
)

// Store provides Redis-backed settings access.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a settings store from a Redis URL.
func New(redisURL string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

// NewWithClient creates a settings store on an existing client.
func NewWithClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get retrieves a raw setting value. Returns "" when unset.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Set stores a setting value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, keyPrefix+key, value, 0).Err()
}

// GetBool reads a boolean setting, returning the default when unset or
// unparseable.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	val, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		s.logger.Warn("unparseable boolean setting", "key", key, "value", val)
		return def, nil
	}
	return b, nil
}

// GetInt reads an integer setting, returning the default when unset or
// unparseable.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	val, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		s.logger.Warn("unparseable integer setting", "key", key, "value", val)
		return def, nil
	}
	return n, nil
}

// DLPEnabled reports whether prompt scanning is on (default true).
func (s *Store) DLPEnabled(ctx context.Context) (bool, error) {
	return s.GetBool(ctx, KeyDLPEnabled, true)
}

// AutoEscalation reports whether critical DLP matches force event severity
// to critical (default true).
func (s *Store) AutoEscalation(ctx context.Context) (bool, error) {
	return s.GetBool(ctx, KeyAutoEscalation, true)
}

// MaxScanLength is the cap on excerpt length fed to the scanner.
func (s *Store) MaxScanLength(ctx context.Context) (int, error) {
	return s.GetInt(ctx, KeyMaxScanLength, DefaultMaxScanLength)
}

// RetentionDays is the event retention window.
func (s *Store) RetentionDays(ctx context.Context) (int, error) {
	return s.GetInt(ctx, KeyRetentionDays, DefaultRetentionDays)
}

// TargetAgentVersion returns the version agents should run and its
// download URL. Empty version means no target is configured.
func (s *Store) TargetAgentVersion(ctx context.Context) (version, downloadURL string, err error) {
	version, err = s.Get(ctx, KeyTargetAgentVersion)
	if err != nil {
		return "", "", err
	}
	downloadURL, err = s.Get(ctx, KeyAgentDownloadURL)
	if err != nil {
		return "", "", err
	}
	return version, downloadURL, nil
}

// forceSyncKey is the per-machine flag an operator sets to push a full
// rule re-sync on the machine's next heartbeat.
func forceSyncKey(machineID string) string {
	return keyPrefix + "force_sync:" + machineID
}

// SetForceSync flags a machine for a forced rule re-sync.
func (s *Store) SetForceSync(ctx context.Context, machineID string) error {
	return s.client.Set(ctx, forceSyncKey(machineID), "1", 0).Err()
}

// ConsumeForceSync reads and clears the machine's force-sync flag, so the
// request is delivered on exactly one heartbeat.
func (s *Store) ConsumeForceSync(ctx context.Context, machineID string) (bool, error) {
	n, err := s.client.Del(ctx, forceSyncKey(machineID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
