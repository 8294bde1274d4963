package service

import (
	"context"
	"fmt"
	"time"

	"lararun/internal/analysis"
	"lararun/internal/logger"
	"lararun/internal/observability"
	"lararun/internal/store"
)

// RecordDetector keeps each user's personal records up to date. Running it
// over the same activities in any order converges on the same records.
type RecordDetector struct {
	store *store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewRecordDetector(s *store.Store, log *logger.Logger) *RecordDetector {
	return &RecordDetector{
		store: s,
		log:   log.With("component", "RecordDetector"),
		now:   time.Now,
	}
}

// Detect checks one activity against the user's records and returns the
// record types it set.
func (d *RecordDetector) Detect(ctx context.Context, activityID int64) ([]analysis.RecordType, error) {
	a, err := d.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("loading activity %d: %w", activityID, err)
	}
	return d.DetectActivity(ctx, a)
}

func (d *RecordDetector) DetectActivity(ctx context.Context, a *store.Activity) ([]analysis.RecordType, error) {
	if a.Type != TrackedActivityType || a.Distance <= 0 {
		return nil, nil
	}

	achieved := d.now().UTC()
	if a.StartDate != nil {
		achieved = *a.StartDate
	}

	var set []analysis.RecordType
	for _, c := range analysis.Candidates(a.Distance, a.MovingTime) {
		updated, err := d.store.UpsertPersonalRecord(ctx, &store.PersonalRecord{
			UserID:       a.UserID,
			RecordType:   c.Type.String(),
			Value:        c.Value,
			AchievedDate: achieved,
			ActivityID:   a.ID,
		}, compareMode(c.Type))
		if err != nil {
			return set, err
		}
		if updated {
			set = append(set, c.Type)
			observability.RecordPersonalRecord(c.Type.String())
			d.log.Info("personal record set", "user_id", a.UserID, "activity_id", a.ID,
				"record_type", c.Type.String(), "value", c.Value, "unit", c.Type.Unit())
		}
	}
	return set, nil
}

// compareMode hands the record's improvement rule to the store, which
// applies it inside the upsert.
func compareMode(rt analysis.RecordType) store.CompareMode {
	if rt.Improves(1, 0) {
		return store.CompareHigherWins
	}
	return store.CompareLowerWins
}

// Backfill re-scans stored activities, optionally for a single user.
func (d *RecordDetector) Backfill(ctx context.Context, userID *int64) (int, error) {
	ids, err := d.store.ListActivityIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing activities: %w", err)
	}

	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		set, err := d.Detect(ctx, id)
		if err != nil {
			return total, err
		}
		total += len(set)
	}
	d.log.Info("record backfill finished", "activities", len(ids), "records_set", total)
	return total, nil
}
