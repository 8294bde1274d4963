package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lararun/internal/analysis"
	"lararun/internal/logger"
	"lararun/internal/store"
)

// MetricsEngine derives recovery figures from stored activities.
type MetricsEngine struct {
	store *store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewMetricsEngine(s *store.Store, log *logger.Logger) *MetricsEngine {
	return &MetricsEngine{
		store: s,
		log:   log.With("component", "MetricsEngine"),
		now:   time.Now,
	}
}

// ComputeActivityRecovery stores the per-activity recovery score and
// estimated hours. Only scored runs qualify. The write goes straight to the
// store and publishes no change event.
func (m *MetricsEngine) ComputeActivityRecovery(ctx context.Context, activityID int64) (bool, error) {
	a, err := m.store.GetActivity(ctx, activityID)
	if err != nil {
		return false, fmt.Errorf("loading activity %d: %w", activityID, err)
	}
	return m.computeRecovery(ctx, a)
}

func (m *MetricsEngine) computeRecovery(ctx context.Context, a *store.Activity) (bool, error) {
	if a.Type != TrackedActivityType || a.IntensityScore == nil {
		return false, nil
	}
	score, hours := analysis.ActivityRecovery(*a.IntensityScore, a.Distance)
	if err := m.store.SetActivityRecovery(ctx, a.ID, score, hours); err != nil {
		return false, fmt.Errorf("storing recovery for activity %d: %w", a.ID, err)
	}
	m.log.Debug("activity recovery computed", "activity_id", a.ID, "recovery_score", score, "recovery_hours", hours)
	return true, nil
}

// CurrentRecovery returns the user's 0-10 recovery score from the last seven
// days of activities. It is not persisted.
func (m *MetricsEngine) CurrentRecovery(ctx context.Context, userID int64) (float64, error) {
	now := m.now()
	recent, err := m.store.ListActivitiesSince(ctx, userID, now.Add(-analysis.RecoveryWindow), 0)
	if err != nil {
		return 0, fmt.Errorf("loading recent activities: %w", err)
	}

	samples := make([]analysis.RecoverySample, 0, len(recent))
	for _, a := range recent {
		if a.StartDate == nil {
			continue
		}
		samples = append(samples, analysis.RecoverySample{StartDate: *a.StartDate, Intensity: a.IntensityScore})
	}
	return analysis.CurrentRecoveryScore(now, samples), nil
}

// BackfillRecovery computes recovery for scored runs that have none yet.
func (m *MetricsEngine) BackfillRecovery(ctx context.Context) (int, error) {
	pending, err := m.store.ListActivitiesMissingRecovery(ctx, TrackedActivityType)
	if err != nil {
		return 0, fmt.Errorf("listing activities without recovery: %w", err)
	}

	updated := 0
	for i := range pending {
		ok, err := m.computeRecovery(ctx, &pending[i])
		if errors.Is(err, store.ErrActivityNotFound) {
			continue
		}
		if err != nil {
			return updated, err
		}
		if ok {
			updated++
		}
	}
	m.log.Info("recovery backfill finished", "candidates", len(pending), "updated", updated)
	return updated, nil
}
