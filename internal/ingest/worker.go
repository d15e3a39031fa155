package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig holds configuration for the ingestion worker pool.
type WorkerConfig struct {
	// Workers is the number of concurrent batch processors.
	Workers int

	// PollInterval is how often an idle worker checks the queue.
	PollInterval time.Duration
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:      4,
		PollInterval: 500 * time.Millisecond,
	}
}

// Worker drains the batch queue with a pool of goroutines. Batches are
// independent, so workers never coordinate beyond the queue itself.
type Worker struct {
	queue    *Queue
	pipeline *Pipeline
	config   WorkerConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates an ingestion worker pool.
func NewWorker(queue *Queue, pipeline *Pipeline, config WorkerConfig, logger *slog.Logger) *Worker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	return &Worker{
		queue:    queue,
		pipeline: pipeline,
		config:   config,
		logger:   logger.With("component", "ingest_worker"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("ingestion workers started",
		"workers", w.config.Workers,
		"poll_interval", w.config.PollInterval,
	)
	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop signals the pool to stop and waits for in-flight batches.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes batches until the queue is empty. Accepted batches are
// processed to completion; per-event failures are logged inside the
// pipeline.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.queue.Pop(ctx)
		if err != nil {
			w.logger.Error("popping batch job", "error", err)
			return
		}
		if job == nil {
			return
		}

		w.pipeline.ProcessBatch(ctx, job)
	}
}
