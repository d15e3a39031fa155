package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const connectTimeout = 10 * time.Second

// NATSNotifier publishes notifications to NATS subjects.
type NATSNotifier struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSNotifier connects to NATS. The client library handles reconnects.
func NewNATSNotifier(url string, logger *slog.Logger) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	logger.Info("NATS notifier initialized", "url", url)
	return &NATSNotifier{conn: conn, logger: logger}, nil
}

// Publish sends a JSON-encoded payload to a subject.
func (n *NATSNotifier) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := n.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
