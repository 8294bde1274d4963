package service

import (
	"context"
	"time"

	"lararun/internal/events"
	"lararun/internal/logger"
	"lararun/internal/store"
)

// ActivityWriter is the only path that mutates activities in a way other
// components should hear about. Every write commits an ActivityChanged
// outbox entry alongside the row, then asks the relay to deliver it.
type ActivityWriter struct {
	store *store.Store
	relay *events.Relay
	now   func() time.Time
	log   *logger.Logger
}

func NewActivityWriter(s *store.Store, relay *events.Relay, log *logger.Logger) *ActivityWriter {
	return &ActivityWriter{
		store: s,
		relay: relay,
		now:   time.Now,
		log:   log.With("component", "ActivityWriter"),
	}
}

// Create inserts a new activity. A duplicate external id is a no-op and
// records no event.
func (w *ActivityWriter) Create(ctx context.Context, a *store.Activity) (bool, error) {
	created, err := w.store.InsertActivity(ctx, a, events.Encode(events.ActivityChanged{
		Kind:       events.Created,
		UserID:     a.UserID,
		OccurredAt: w.now().UTC(),
	}))
	if err != nil || !created {
		return false, err
	}
	w.deliver(ctx)
	return true, nil
}

// SetEvaluation stores the coach's evaluation text.
func (w *ActivityWriter) SetEvaluation(ctx context.Context, id int64, short, extended string) error {
	before, err := w.store.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	after := *before
	after.ShortEvaluation = &short
	after.ExtendedEvaluation = &extended

	var event store.EventFunc
	if changed := events.Diff(before, &after); len(changed) > 0 {
		event = events.Encode(events.ActivityChanged{
			Kind:       events.Updated,
			UserID:     before.UserID,
			Changed:    changed,
			OccurredAt: w.now().UTC(),
		})
	}
	if err := w.store.SetActivityEvaluation(ctx, id, short, extended, event); err != nil {
		return err
	}
	if event != nil {
		w.deliver(ctx)
	}
	return nil
}

// Flush delivers outbox entries left behind by earlier failed deliveries.
func (w *ActivityWriter) Flush(ctx context.Context) (int, error) {
	return w.relay.Flush(ctx)
}

// deliver publishes right after the commit. The entry is already durable, so
// a failure here only delays delivery until the next flush.
func (w *ActivityWriter) deliver(ctx context.Context) {
	if _, err := w.relay.Flush(ctx); err != nil {
		w.log.Warn("delivering activity change failed, will retry", "error", err)
	}
}
