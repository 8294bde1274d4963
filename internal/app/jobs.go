package app

import (
	"context"
	"errors"
	"fmt"

	"lararun/internal/apperr"
	"lararun/internal/coach"
	"lararun/internal/queue"
	"lararun/internal/store"
)

func (a *Application) registerJobs() error {
	handlers := map[string]queue.HandlerFunc{
		queue.TypeImportActivities: a.importJob,
		queue.TypeEnrichActivity:   a.enrichJob,
		queue.TypeDetectRecords:    a.detectRecordsJob,
		queue.TypeComputeRecovery:  a.computeRecoveryJob,
		queue.TypeGeneratePlan:     a.generatePlanJob,
	}
	for jobType, h := range handlers {
		if err := a.Registry.Register(jobType, h); err != nil {
			return err
		}
	}
	return nil
}

// notFound makes lookups of deleted rows fail the job instead of retrying it.
func notFound(err error) error {
	for _, target := range []error{store.ErrUserNotFound, store.ErrActivityNotFound} {
		if errors.Is(err, target) {
			return apperr.Permanent(apperr.CodeNotFound, target.Error(), err)
		}
	}
	return err
}

func (a *Application) importJob(ctx context.Context, job *store.Job) error {
	var p queue.ImportPayload
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	if p.UserID == nil {
		return a.Importer.ImportAll(ctx)
	}
	user, err := a.Store.GetUser(ctx, *p.UserID)
	if err != nil {
		return notFound(err)
	}
	a.Importer.ImportForUser(ctx, user)
	return nil
}

func (a *Application) enrichJob(ctx context.Context, job *store.Job) error {
	var p queue.ActivityPayload
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	_, err := a.Enricher.Enrich(ctx, p.ActivityID, p.Notify)
	return notFound(err)
}

func (a *Application) detectRecordsJob(ctx context.Context, job *store.Job) error {
	var p queue.ActivityPayload
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	if _, err := a.Records.Detect(ctx, p.ActivityID); err != nil {
		return notFound(err)
	}
	if p.Chain {
		return a.Dispatcher.RecordsDetected(ctx, p)
	}
	return nil
}

func (a *Application) computeRecoveryJob(ctx context.Context, job *store.Job) error {
	var p queue.ActivityPayload
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	if _, err := a.Metrics.ComputeActivityRecovery(ctx, p.ActivityID); err != nil {
		return notFound(err)
	}
	if p.Chain {
		return a.Dispatcher.RecoveryComputed(ctx, p)
	}
	return nil
}

func (a *Application) generatePlanJob(ctx context.Context, job *store.Job) error {
	var p queue.PlanPayload
	if err := queue.Decode(job, &p); err != nil {
		return err
	}
	if p.UserID == 0 {
		return apperr.Permanent(apperr.CodeInvalidPayload, "generate_plan without user_id", nil)
	}
	_, err := a.Orchestrator.Generate(ctx, p.UserID, coach.Options{Force: p.Force, Notify: p.Notify})
	return notFound(err)
}

// EnqueueImport schedules an import for one user, or all when userID is nil.
func (a *Application) EnqueueImport(ctx context.Context, userID *int64) (int64, error) {
	return a.Queue.Enqueue(ctx, queue.TypeImportActivities, queue.ImportPayload{UserID: userID})
}

// EnqueueDailyPlans schedules a notified plan run for every user with an
// active objective.
func (a *Application) EnqueueDailyPlans(ctx context.Context, force bool) (int, error) {
	objectives, err := a.Store.ListActiveObjectives(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active objectives: %w", err)
	}
	seen := make(map[int64]bool)
	n := 0
	for _, o := range objectives {
		if seen[o.UserID] {
			continue
		}
		seen[o.UserID] = true
		if _, err := a.Queue.Enqueue(ctx, queue.TypeGeneratePlan, queue.PlanPayload{UserID: o.UserID, Force: force, Notify: true}); err != nil {
			return n, fmt.Errorf("enqueueing plan for user %d: %w", o.UserID, err)
		}
		n++
	}
	return n, nil
}

// EnqueueEvaluations schedules a fresh evaluation for each activity.
func (a *Application) EnqueueEvaluations(ctx context.Context, activityIDs []int64, notify bool) error {
	for _, id := range activityIDs {
		if _, err := a.Queue.Enqueue(ctx, queue.TypeEnrichActivity, queue.ActivityPayload{ActivityID: id, Notify: notify}); err != nil {
			return fmt.Errorf("enqueueing evaluation for activity %d: %w", id, err)
		}
	}
	return nil
}
