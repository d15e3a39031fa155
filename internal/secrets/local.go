package secrets

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LocalKeyStore stores the data key on the local filesystem.
// This is intended for development and testing only.
//
// The key is stored hex-encoded at <base_dir>/<key_name>.key.
type LocalKeyStore struct {
	baseDir string
	logger  *slog.Logger

	mu     sync.Mutex
	cached []byte
}

// NewLocalKeyStore creates a new local filesystem-backed key store.
// If baseDir is empty, it defaults to ~/.dlpmon/keys.
func NewLocalKeyStore(baseDir string, logger *slog.Logger) (*LocalKeyStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".dlpmon", "keys")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	logger.Info("using local key store", "path", baseDir)

	return &LocalKeyStore{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// GetOrCreateDataKey returns the data key, creating one if it doesn't exist.
func (ks *LocalKeyStore) GetOrCreateDataKey(ctx context.Context) ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.cached != nil {
		return ks.cached, nil
	}

	keyPath := filepath.Join(ks.baseDir, DefaultKeyName+".key")

	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decoding data key file: %w", err)
		}
		if len(key) != DataKeySize {
			return nil, fmt.Errorf("data key file holds %d bytes, want %d", len(key), DataKeySize)
		}
		ks.cached = key
		return key, nil

	case os.IsNotExist(err):
		ks.logger.Info("creating new data key", "name", DefaultKeyName)

		key, err := GenerateDataKey()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
			return nil, fmt.Errorf("writing data key: %w", err)
		}
		ks.cached = key
		return key, nil

	default:
		return nil, fmt.Errorf("reading data key: %w", err)
	}
}

// Close releases any resources.
func (ks *LocalKeyStore) Close() error {
	ks.mu.Lock()
	ks.cached = nil
	ks.mu.Unlock()
	return nil
}
