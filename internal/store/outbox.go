package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxEvent is a change notification committed in the same transaction as
// the activity write it describes.
type OutboxEvent struct {
	ID         int64
	ActivityID int64
	EventType  string
	Payload    []byte
	CreatedAt  time.Time
}

// EventFunc renders the outbox entry for a write to activityID. It runs
// inside the writing transaction; an error rolls the write back.
type EventFunc func(activityID int64) (eventType string, payload []byte, err error)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOutbox(ctx context.Context, tx execer, activityID int64, event EventFunc) error {
	eventType, payload, err := event(activityID)
	if err != nil {
		return fmt.Errorf("rendering outbox event for activity %d: %w", activityID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO activity_outbox (activity_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, activityID, eventType, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("writing outbox event for activity %d: %w", activityID, err)
	}
	return nil
}

// PendingEvents returns up to limit undelivered outbox entries, oldest first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity_id, event_type, payload, created_at
		FROM activity_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending outbox events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload, createdAt string
		if err := rows.Scan(&e.ID, &e.ActivityID, &e.EventType, &payload, &createdAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventPublished records that an outbox entry was delivered.
func (s *Store) MarkEventPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE activity_outbox SET published_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	return err
}
