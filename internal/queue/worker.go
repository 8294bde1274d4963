package queue

import (
	"context"
	"fmt"
	"time"

	"lararun/internal/apperr"
	"lararun/internal/logger"
	"lararun/internal/observability"
	"lararun/internal/store"
)

// Options tunes the worker pool
type Options struct {
	Concurrency  int
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	return o
}

// Worker polls the job table and dispatches claimed jobs to handlers.
type Worker struct {
	store    Store
	registry *Registry
	log      *logger.Logger
	opts     Options
	now      func() time.Time
}

func NewWorker(s Store, registry *Registry, log *logger.Logger, opts Options) *Worker {
	return &Worker{
		store:    s,
		registry: registry,
		log:      log.With("component", "JobWorker"),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Start launches the pool; loops stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency)
	for i := 0; i < w.opts.Concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// drain everything runnable before waiting for the next tick
			for {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				}
				if !ran || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs a single job. It reports false when nothing was
// runnable.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextRunnable(ctx, w.opts.MaxAttempts, w.opts.StaleAfter)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With("job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.Type)
	if !ok {
		log.Warn("No handler registered for job_type")
		w.fail(ctx, log, job, fmt.Errorf("no handler registered for job_type=%s", job.Type))
		return true, nil
	}

	runErr := w.run(ctx, h, job)
	switch {
	case runErr == nil:
		if err := w.store.CompleteJob(ctx, job.ID); err != nil {
			log.Error("Completing job failed", "error", err)
		}
		observability.RecordJob(job.Type, "done")
	case apperr.IsRetryable(runErr) && job.Attempts < w.opts.MaxAttempts:
		runAfter := w.now().Add(w.opts.RetryDelay * time.Duration(job.Attempts))
		log.Warn("Job failed, will retry", "error", runErr, "run_after", runAfter)
		if err := w.store.RetryJob(ctx, job.ID, runErr.Error(), runAfter); err != nil {
			log.Error("Rescheduling job failed", "error", err)
		}
		observability.RecordJob(job.Type, "retry")
	default:
		w.fail(ctx, log, job, runErr)
	}
	return true, nil
}

func (w *Worker) run(ctx context.Context, h HandlerFunc, job *store.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.Type, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) fail(ctx context.Context, log *logger.Logger, job *store.Job, cause error) {
	log.Error("Job failed", "error", cause)
	if err := w.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		log.Error("Marking job failed", "error", err)
	}
	observability.RecordJob(job.Type, "failed")
}

func invalidPayload(job *store.Job, err error) error {
	return apperr.Permanent(apperr.CodeInvalidPayload, fmt.Sprintf("decoding %s payload", job.Type), err)
}
