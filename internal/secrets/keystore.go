// Package secrets provides secure storage for the data key that seals
// per-machine HMAC secrets.
//
// This package defines a KeyStore interface for managing the data key. The
// primary implementation uses 1Password Connect for production environments,
// with a local file-based fallback for development.
package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
)

// DataKeySize is the size of the sealing key in bytes (AES-256).
const DataKeySize = 32

// DefaultKeyName is the name of the default data key.
const DefaultKeyName = "dlpmon-data-key"

// KeyStore provides secure storage and retrieval of the data key.
type KeyStore interface {
	// GetOrCreateDataKey returns the service's data key, creating one if
	// it doesn't exist. The key seals machine HMAC secrets at rest.
	GetOrCreateDataKey(ctx context.Context) ([]byte, error)

	// Close releases any resources held by the key store.
	Close() error
}

// GenerateDataKey generates a fresh random data key.
func GenerateDataKey() ([]byte, error) {
	key := make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	return key, nil
}
