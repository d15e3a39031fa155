package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key for the index job queue.
const keyIndexJobs = "dlpmon:index_jobs"

// Job is one pending index write. Attempt counts completed tries;
// NotBefore delays re-queued jobs until their backoff has elapsed.
type Job struct {
	EventID   string    `json:"event_id"`
	Document  Document  `json:"document"`
	Attempt   int       `json:"attempt"`
	NotBefore time.Time `json:"not_before"`
}

// Queue is the Redis-backed index job queue. Jobs are enqueued only after
// the event row is committed, so a lost job never means a lost event.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

// NewQueue creates an index job queue.
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

// NewQueueWithClient creates an index job queue on an existing client.
func NewQueueWithClient(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Push enqueues a job.
func (q *Queue) Push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling index job: %w", err)
	}
	if err := q.client.LPush(ctx, keyIndexJobs, data).Err(); err != nil {
		return fmt.Errorf("pushing index job: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest job, or nil when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	data, err := q.client.RPop(ctx, keyIndexJobs).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping index job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		q.logger.Warn("dropping malformed index job", "error", err)
		return nil, nil
	}
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyIndexJobs).Result()
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
