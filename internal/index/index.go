// Package index writes event excerpts to the external document index and
// retries failed writes on its own queue, isolated from the ingestion
// critical path.
package index

import (
	"context"
	"time"
)

// Document is what gets indexed per event: enough for full-text review
// queries without duplicating the relational row.
type Document struct {
	EventID        string    `bson:"event_id" json:"event_id"`
	MachineID      string    `bson:"machine_id" json:"machine_id"`
	ContentHash    string    `bson:"content_hash,omitempty" json:"content_hash,omitempty"`
	PromptLength   int       `bson:"prompt_length" json:"prompt_length"`
	ResponseLength int       `bson:"response_length" json:"response_length"`
	Platform       string    `bson:"platform,omitempty" json:"platform,omitempty"`
	Domain         string    `bson:"domain,omitempty" json:"domain,omitempty"`
	Severity       string    `bson:"severity" json:"severity"`
	RuleIDs        []string  `bson:"rule_ids,omitempty" json:"rule_ids,omitempty"`
	OccurredAt     time.Time `bson:"occurred_at" json:"occurred_at"`
}

// Writer is the document index adapter.
type Writer interface {
	// Put stores a document and returns its index id.
	Put(ctx context.Context, doc *Document) (string, error)

	// Search returns documents matching a full-text query.
	Search(ctx context.Context, query string, limit int) ([]Document, error)

	// BulkDelete removes documents by index id.
	BulkDelete(ctx context.Context, ids []string) error

	Close(ctx context.Context) error
}
