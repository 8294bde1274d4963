// Package events carries activity change notifications from the writer to
// the handlers that derive metrics and plans from them.
package events

import (
	"context"
	"sync"
	"time"

	"lararun/internal/store"
)

// Kind says whether an activity was created or updated
type Kind string

const (
	Created Kind = "activity.created"
	Updated Kind = "activity.updated"
)

// Field names an activity attribute in a change set
type Field string

const (
	FieldName               Field = "name"
	FieldStartDate          Field = "start_date"
	FieldDistance           Field = "distance"
	FieldMovingTime         Field = "moving_time"
	FieldElapsedTime        Field = "elapsed_time"
	FieldZ1Time             Field = "z1_time"
	FieldZ2Time             Field = "z2_time"
	FieldZ3Time             Field = "z3_time"
	FieldZ4Time             Field = "z4_time"
	FieldZ5Time             Field = "z5_time"
	FieldIntensityScore     Field = "intensity_score"
	FieldShortEvaluation    Field = "short_evaluation"
	FieldExtendedEvaluation Field = "extended_evaluation"
)

// performanceFields are the attributes whose change invalidates derived
// metrics, records and plans.
var performanceFields = map[Field]bool{
	FieldDistance:    true,
	FieldMovingTime:  true,
	FieldElapsedTime: true,
	FieldZ1Time:      true,
	FieldZ2Time:      true,
	FieldZ3Time:      true,
	FieldZ4Time:      true,
	FieldZ5Time:      true,
}

// IsPerformanceField reports whether f feeds the derived-metrics chain.
func IsPerformanceField(f Field) bool {
	return performanceFields[f]
}

// ActivityChanged is published after an activity write commits.
type ActivityChanged struct {
	Kind       Kind      `json:"kind"`
	ActivityID int64     `json:"activity_id"`
	UserID     int64     `json:"user_id"`
	Changed    []Field   `json:"changed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TriggersPipeline is true for every creation and for updates that touched
// at least one performance field.
func (e ActivityChanged) TriggersPipeline() bool {
	if e.Kind == Created {
		return true
	}
	for _, f := range e.Changed {
		if IsPerformanceField(f) {
			return true
		}
	}
	return false
}

// Diff lists the fields that differ between two versions of an activity.
func Diff(before, after *store.Activity) []Field {
	var changed []Field
	add := func(cond bool, f Field) {
		if cond {
			changed = append(changed, f)
		}
	}
	add(before.Name != after.Name, FieldName)
	add(!sameTime(before.StartDate, after.StartDate), FieldStartDate)
	add(before.Distance != after.Distance, FieldDistance)
	add(before.MovingTime != after.MovingTime, FieldMovingTime)
	add(before.ElapsedTime != after.ElapsedTime, FieldElapsedTime)
	add(before.Z1Time != after.Z1Time, FieldZ1Time)
	add(before.Z2Time != after.Z2Time, FieldZ2Time)
	add(before.Z3Time != after.Z3Time, FieldZ3Time)
	add(before.Z4Time != after.Z4Time, FieldZ4Time)
	add(before.Z5Time != after.Z5Time, FieldZ5Time)
	add(!sameFloat(before.IntensityScore, after.IntensityScore), FieldIntensityScore)
	add(!sameString(before.ShortEvaluation, after.ShortEvaluation), FieldShortEvaluation)
	add(!sameString(before.ExtendedEvaluation, after.ExtendedEvaluation), FieldExtendedEvaluation)
	return changed
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Publisher delivers change events to their consumers
type Publisher interface {
	Publish(ctx context.Context, evt ActivityChanged) error
}

// Handler consumes change events
type Handler interface {
	Handle(ctx context.Context, evt ActivityChanged) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, evt ActivityChanged) error

func (f HandlerFunc) Handle(ctx context.Context, evt ActivityChanged) error {
	return f(ctx, evt)
}

// LocalBus delivers events in-process to subscribed handlers, in
// subscription order, on the publisher's goroutine.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish runs every handler and returns the first error after all ran.
func (b *LocalBus) Publish(ctx context.Context, evt ActivityChanged) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
