package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardline/dlp-mon/internal/metrics"
)

// EventStore is the slice of the primary store the retry worker needs.
type EventStore interface {
	SetEventIndexID(ctx context.Context, eventID, indexID string) error
}

const (
	// MaxAttempts is the total number of tries per job.
	MaxAttempts = 3

	// AttemptTimeout bounds a single index write.
	AttemptTimeout = 30 * time.Second
)

// retryDelays is the fixed backoff schedule applied after each failed
// attempt.
var retryDelays = [MaxAttempts]time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// RetryWorkerConfig holds configuration for the index retry worker.
type RetryWorkerConfig struct {
	// PollInterval is how often the queue is drained.
	PollInterval time.Duration
}

// DefaultRetryWorkerConfig returns sensible defaults.
func DefaultRetryWorkerConfig() RetryWorkerConfig {
	return RetryWorkerConfig{
		PollInterval: 1 * time.Second,
	}
}

// RetryWorker drains the index job queue, writes documents to the index,
// and re-queues failures on the backoff schedule. After the final attempt
// the job is logged and dropped; the event row is already committed and
// stays untouched.
type RetryWorker struct {
	queue  *Queue
	writer Writer
	events EventStore
	config RetryWorkerConfig
	logger *slog.Logger
	stopCh chan struct{}
}

// NewRetryWorker creates an index retry worker.
func NewRetryWorker(queue *Queue, writer Writer, events EventStore, config RetryWorkerConfig, logger *slog.Logger) *RetryWorker {
	return &RetryWorker{
		queue:  queue,
		writer: writer,
		events: events,
		config: config,
		logger: logger.With("component", "index_worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker in a goroutine.
func (w *RetryWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *RetryWorker) Stop() {
	close(w.stopCh)
}

func (w *RetryWorker) run(ctx context.Context) {
	w.logger.Info("index worker started", "poll_interval", w.config.PollInterval)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("index worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("index worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes queued jobs until the queue is empty or only holds jobs
// whose backoff has not elapsed yet.
func (w *RetryWorker) drain(ctx context.Context) {
	// Deferred jobs seen this pass go back on the queue; remember how many
	// so the loop terminates once it has cycled through them.
	deferred := 0

	for {
		queued, err := w.queue.Len(ctx)
		if err != nil || queued <= int64(deferred) {
			return
		}

		job, err := w.queue.Pop(ctx)
		if err != nil {
			w.logger.Error("popping index job", "error", err)
			return
		}
		if job == nil {
			return
		}

		if time.Now().Before(job.NotBefore) {
			if err := w.queue.Push(ctx, job); err != nil {
				w.logger.Error("re-queueing deferred index job", "event_id", job.EventID, "error", err)
			}
			deferred++
			continue
		}

		w.process(ctx, job)
	}
}

func (w *RetryWorker) process(ctx context.Context, job *Job) {
	attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	indexID, err := w.writer.Put(attemptCtx, &job.Document)
	cancel()

	if err == nil {
		metrics.IndexWrites.WithLabelValues("success").Inc()
		if err := w.events.SetEventIndexID(ctx, job.EventID, indexID); err != nil {
			w.logger.Error("recording index id", "event_id", job.EventID, "error", err)
		}
		return
	}

	job.Attempt++
	if job.Attempt >= MaxAttempts {
		metrics.IndexWrites.WithLabelValues("failed").Inc()
		w.logger.Error("index job failed permanently",
			"event_id", job.EventID,
			"attempts", job.Attempt,
			"error", err,
		)
		return
	}

	delay := retryDelays[job.Attempt-1]
	job.NotBefore = time.Now().Add(delay)
	metrics.IndexRetries.Inc()
	w.logger.Warn("index write failed, retrying",
		"event_id", job.EventID,
		"attempt", job.Attempt,
		"retry_in", delay,
		"error", err,
	)

	if err := w.queue.Push(ctx, job); err != nil {
		w.logger.Error("re-queueing index job", "event_id", job.EventID, "error", err)
	}
}
