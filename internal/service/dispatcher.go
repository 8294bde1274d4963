package service

import (
	"context"
	"errors"
	"fmt"

	"lararun/internal/events"
	"lararun/internal/logger"
	"lararun/internal/observability"
	"lararun/internal/queue"
	"lararun/internal/store"
)

// Enqueuer schedules background jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any) (int64, error)
}

// Dispatcher turns activity change events into background jobs. Evaluation
// runs on its own; record detection, per-activity recovery and, when the
// user has an active objective, a silent plan refresh run as a chain where
// each job enqueues the next only after it succeeds.
type Dispatcher struct {
	store *store.Store
	queue Enqueuer
	log   *logger.Logger
}

func NewDispatcher(s *store.Store, q Enqueuer, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store: s,
		queue: q,
		log:   log.With("component", "ActivityChangeDispatcher"),
	}
}

func (d *Dispatcher) Handle(ctx context.Context, evt events.ActivityChanged) error {
	log := d.log.With("activity_id", evt.ActivityID, "user_id", evt.UserID, "kind", evt.Kind)

	if !evt.TriggersPipeline() {
		log.Debug("no performance fields changed, ignoring", "changed", evt.Changed)
		observability.RecordEvent(string(evt.Kind), "ignored")
		return nil
	}

	if err := d.enqueue(ctx, queue.TypeEnrichActivity, queue.ActivityPayload{ActivityID: evt.ActivityID, Notify: true}); err != nil {
		return err
	}
	chain := queue.ActivityPayload{ActivityID: evt.ActivityID, UserID: evt.UserID, Chain: true}
	if err := d.enqueue(ctx, queue.TypeDetectRecords, chain); err != nil {
		return err
	}
	log.Info("activity change dispatched")
	observability.RecordEvent(string(evt.Kind), "dispatched")
	return nil
}

// RecordsDetected continues a chain with the activity's recovery estimate.
func (d *Dispatcher) RecordsDetected(ctx context.Context, p queue.ActivityPayload) error {
	return d.enqueue(ctx, queue.TypeComputeRecovery, p)
}

// RecoveryComputed ends a chain with a silent plan refresh when the user
// has an active objective.
func (d *Dispatcher) RecoveryComputed(ctx context.Context, p queue.ActivityPayload) error {
	objective, err := d.store.CurrentObjective(ctx, p.UserID)
	if errors.Is(err, store.ErrObjectiveNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading current objective for user %d: %w", p.UserID, err)
	}
	d.log.Debug("refreshing plan after activity change", "activity_id", p.ActivityID, "user_id", p.UserID, "objective_id", objective.ID)
	return d.enqueue(ctx, queue.TypeGeneratePlan, queue.PlanPayload{UserID: p.UserID, Force: false, Notify: false})
}

func (d *Dispatcher) enqueue(ctx context.Context, jobType string, payload any) error {
	if _, err := d.queue.Enqueue(ctx, jobType, payload); err != nil {
		return fmt.Errorf("enqueueing %s: %w", jobType, err)
	}
	return nil
}
