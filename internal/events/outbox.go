package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lararun/internal/logger"
	"lararun/internal/observability"
	"lararun/internal/store"
)

const relayBatchSize = 100

// OutboxStore is the part of the datastore the relay drains
type OutboxStore interface {
	PendingEvents(ctx context.Context, limit int) ([]store.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64) error
}

// Encode renders an event as an outbox entry for the activity being written.
func Encode(evt ActivityChanged) store.EventFunc {
	return func(activityID int64) (string, []byte, error) {
		evt.ActivityID = activityID
		b, err := json.Marshal(evt)
		return string(evt.Kind), b, err
	}
}

// Relay delivers committed outbox entries to a publisher in commit order.
// A failed publish stops the flush and leaves that entry and the ones after
// it for the next attempt.
type Relay struct {
	mu        sync.Mutex
	store     OutboxStore
	publisher Publisher
	log       *logger.Logger
}

func NewRelay(s OutboxStore, publisher Publisher, log *logger.Logger) *Relay {
	return &Relay{
		store:     s,
		publisher: publisher,
		log:       log.With("component", "OutboxRelay"),
	}
}

// Flush publishes every pending entry and returns how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for {
		pending, err := r.store.PendingEvents(ctx, relayBatchSize)
		if err != nil {
			return delivered, err
		}
		for _, e := range pending {
			var evt ActivityChanged
			if err := json.Unmarshal(e.Payload, &evt); err != nil {
				r.log.Error("dropping undecodable outbox entry", "outbox_id", e.ID, "activity_id", e.ActivityID, "error", err)
				observability.RecordEvent(e.EventType, "malformed")
				if err := r.store.MarkEventPublished(ctx, e.ID); err != nil {
					return delivered, err
				}
				continue
			}
			if err := r.publisher.Publish(ctx, evt); err != nil {
				observability.RecordEvent(string(evt.Kind), "publish_failed")
				return delivered, fmt.Errorf("publishing outbox entry %d: %w", e.ID, err)
			}
			if err := r.store.MarkEventPublished(ctx, e.ID); err != nil {
				return delivered, fmt.Errorf("marking outbox entry %d published: %w", e.ID, err)
			}
			delivered++
		}
		if len(pending) < relayBatchSize {
			return delivered, nil
		}
	}
}

// Run flushes every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("outbox flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
