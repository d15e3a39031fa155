// Package ingest implements the asynchronous event-ingestion pipeline:
// batches accepted by the API are queued in Redis and processed by a pool
// of workers that scan, persist, alert, and hand off to the index queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guardline/dlp-mon/pkg/types"
)

// Redis key for the accepted-batch queue.
const keyEventBatches = "dlpmon:event_batches"

// BatchJob is one accepted event batch awaiting processing.
type BatchJob struct {
	MachineID string                `json:"machine_id"`
	Hostname  string                `json:"hostname"`
	Events    []types.IncomingEvent `json:"events"`
}

// Queue is the Redis-backed batch queue between the API and the workers.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

// NewQueue creates an ingestion queue from a Redis URL.
func NewQueue(redisURL string, logger *slog.Logger) (*Queue, error) {
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

	return &Queue{client: client, logger: logger}, nil
}

// NewQueueWithClient creates an ingestion queue on an existing client.
func NewQueueWithClient(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Push enqueues an accepted batch.
func (q *Queue) Push(ctx context.Context, job *BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling batch job: %w", err)
	}
	if err := q.client.LPush(ctx, keyEventBatches, data).Err(); err != nil {
		return fmt.Errorf("pushing batch job: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest batch, or nil when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (*BatchJob, error) {
	data, err := q.client.RPop(ctx, keyEventBatches).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping batch job: %w", err)
	}

	var job BatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		q.logger.Warn("dropping malformed batch job", "error", err)
		return nil, nil
	}
	return &job, nil
}

// Len returns the number of queued batches.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyEventBatches).Result()
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
