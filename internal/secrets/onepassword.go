package secrets

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordKeyStore stores the data key in 1Password using the Connect API.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault to store keys in
type OnePasswordKeyStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	// Cache to avoid repeated API calls
	mu     sync.Mutex
	cached []byte
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID
}

// NewOnePasswordKeyStore creates a new 1Password-backed key store.
func NewOnePasswordKeyStore(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordKeyStore, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "dlpmon-server")

	return &OnePasswordKeyStore{
		client:  client,
		vaultID: cfg.VaultID,
		logger:  logger,
	}, nil
}

// GetOrCreateDataKey returns the data key, creating one if it doesn't exist.
func (ks *OnePasswordKeyStore) GetOrCreateDataKey(ctx context.Context) ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.cached != nil {
		return ks.cached, nil
	}

	key, err := ks.getKeyFromVault(ctx, DefaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("checking for existing key: %w", err)
	}

	if key == nil {
		ks.logger.Info("creating new data key", "name", DefaultKeyName)

		key, err = GenerateDataKey()
		if err != nil {
			return nil, err
		}
		if err := ks.storeKeyInVault(key); err != nil {
			return nil, fmt.Errorf("storing key in 1Password: %w", err)
		}
	}

	ks.cached = key
	return key, nil
}

// Close releases any resources.
func (ks *OnePasswordKeyStore) Close() error {
	ks.mu.Lock()
	ks.cached = nil
	ks.mu.Unlock()
	return nil
}

// getKeyFromVault retrieves the data key from 1Password by item title.
func (ks *OnePasswordKeyStore) getKeyFromVault(ctx context.Context, name string) ([]byte, error) {
	items, err := ks.client.GetItemsByTitle(name, ks.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing items: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	// Get the full item (including fields)
	item, err := ks.client.GetItem(items[0].ID, ks.vaultID)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	for _, field := range item.Fields {
		if field.ID != "data_key" {
			continue
		}
		key, err := hex.DecodeString(strings.TrimSpace(field.Value))
		if err != nil {
			return nil, fmt.Errorf("decoding data key field: %w", err)
		}
		if len(key) != DataKeySize {
			return nil, fmt.Errorf("data key item holds %d bytes, want %d", len(key), DataKeySize)
		}
		return key, nil
	}

	return nil, fmt.Errorf("item %q has no data_key field", name)
}

// storeKeyInVault stores a new data key in 1Password.
func (ks *OnePasswordKeyStore) storeKeyInVault(key []byte) error {
	item := &onepassword.Item{
		Title:    DefaultKeyName,
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: ks.vaultID},
		Fields: []*onepassword.ItemField{
			{
				ID:    "data_key",
				Label: "data key",
				Type:  "CONCEALED",
				Value: hex.EncodeToString(key),
			},
			{
				ID:    "created_at",
				Label: "created at",
				Type:  "STRING",
				Value: time.Now().Format(time.RFC3339),
			},
		},
	}

	if _, err := ks.client.CreateItem(item, ks.vaultID); err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// isNotFoundError checks if an error is a "not found" error from 1Password.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "not found") || strings.Contains(errStr, "404") || strings.Contains(errStr, "no items")
}
