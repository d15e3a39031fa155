// Package auth implements the agent trust protocol: credential issuance,
// API key verification, and per-request HMAC signatures with replay
// protection.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/guardline/dlp-mon/pkg/types"
)

// KeyPrefix marks every API key this service issues.
const KeyPrefix = "dlpmon_"

// Credentials is the material issued to a machine at registration. The
// plaintext APIKey is returned to the agent exactly once; only Hash and
// Prefix are persisted.
type Credentials struct {
	APIKey     string // plaintext, "dlpmon_" + 64 hex chars
	Prefix     string // first 16 chars, stored clear for lookup
	Hash       string // bcrypt hash of the full key
	HMACSecret string // plaintext, 64 hex chars; sealed before storage
}

// GenerateCredentials creates a fresh API key and HMAC secret.
func GenerateCredentials() (*Credentials, error) {
	raw, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generating api key: %w", err)
	}
	apiKey := KeyPrefix + raw
	secret, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generating hmac secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}

	return &Credentials{
		APIKey:     apiKey,
		Prefix:     apiKey[:types.APIKeyPrefixLen],
		Hash:       string(hash),
		HMACSecret: secret,
	}, nil
}

// VerifyAPIKey compares a plaintext API key against its bcrypt hash.
func VerifyAPIKey(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// dummyHash is a valid bcrypt hash of random material. When a key prefix
// matches no machine, verification still runs against this hash so the
// unknown-key path costs about the same as the bad-key path.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dlpmon-no-such-machine"), bcrypt.DefaultCost)

// BurnVerification performs a bcrypt comparison that always fails.
func BurnVerification(plaintext string) {
	bcrypt.CompareHashAndPassword(dummyHash, []byte(plaintext))
}

// CheckEnrollmentKey compares the configured pre-shared enrollment key
// against the presented one in constant time. An empty configured key
// disables the gate.
func CheckEnrollmentKey(configured, presented string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

func randomHex(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
