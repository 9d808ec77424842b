package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robin-sci/health-assistant/internal/storage"
)

const (
	defaultWorkers = 2
	idlePoll       = time.Second
)

// Worker runs a pool of goroutines that claim ingestion jobs from the queue
// and feed them to the pipeline. Jobs are at-least-once: a crashed claim is
// redelivered after the queue's visibility timeout, and the pipeline's
// status check makes redelivery harmless.
type Worker struct {
	queue    storage.JobQueue
	pipeline *Pipeline
	logger   *slog.Logger
	workers  int
}

// NewWorker creates a pool. workers <= 0 means the default.
func NewWorker(queue storage.JobQueue, pipeline *Pipeline, workers int, logger *slog.Logger) *Worker {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		pipeline: pipeline,
		logger:   logger,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled, processing jobs on the pool.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			return w.runOne(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) runOne(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			w.logger.Error("claim ingestion job", "error", err)
			if !sleep(ctx, idlePoll) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, idlePoll) {
				return ctx.Err()
			}
			continue
		}

		w.logger.Info("processing ingestion job",
			"job_id", job.ID,
			"document_id", job.DocumentID,
			"attempts", job.Attempts)

		if err := w.pipeline.Process(ctx, job); err != nil {
			if failErr := w.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
				w.logger.Error("record job failure", "job_id", job.ID, "error", failErr)
			}
			continue
		}
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			w.logger.Error("complete job", "job_id", job.ID, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
