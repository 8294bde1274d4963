// Package queue runs background jobs stored in the application database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lararun/internal/store"
)

// Job types
const (
	TypeImportActivities = "import_activities"
	TypeEnrichActivity   = "enrich_activity"
	TypeDetectRecords    = "detect_records"
	TypeComputeRecovery  = "compute_recovery"
	TypeGeneratePlan     = "generate_plan"
)

// Store is the subset of the datastore the queue needs
type Store interface {
	EnqueueJob(ctx context.Context, jobType string, payload []byte, runAfter time.Time) (int64, error)
	ClaimNextRunnable(ctx context.Context, maxAttempts int, staleAfter time.Duration) (*store.Job, error)
	CompleteJob(ctx context.Context, id int64) error
	RetryJob(ctx context.Context, id int64, lastErr string, runAfter time.Time) error
	FailJob(ctx context.Context, id int64, lastErr string) error
}

// Queue enqueues jobs with JSON payloads.
type Queue struct {
	store Store
}

func New(s Store) *Queue {
	return &Queue{store: s}
}

// Enqueue stores a job runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	return q.store.EnqueueJob(ctx, jobType, b, time.Now())
}

// HandlerFunc runs one claimed job.
type HandlerFunc func(ctx context.Context, job *store.Job) error

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(jobType string, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	if jobType == "" {
		return fmt.Errorf("empty job type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job_type=%s", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Decode unmarshals a job payload, classifying failures as permanent.
func Decode(job *store.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return invalidPayload(job, err)
	}
	return nil
}

// ImportPayload selects one user, or every connected user when UserID is nil.
type ImportPayload struct {
	UserID *int64 `json:"user_id,omitempty"`
}

// ActivityPayload addresses one activity. Chain marks jobs started by an
// activity change, whose handlers enqueue the next step on success.
type ActivityPayload struct {
	ActivityID int64 `json:"activity_id"`
	UserID     int64 `json:"user_id,omitempty"`
	Notify     bool  `json:"notify,omitempty"`
	Chain      bool  `json:"chain,omitempty"`
}

// PlanPayload requests a 7-day plan for a user.
type PlanPayload struct {
	UserID int64 `json:"user_id"`
	Force  bool  `json:"force"`
	Notify bool  `json:"notify"`
}
