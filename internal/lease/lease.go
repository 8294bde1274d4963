// Package lease provides named, time-bounded exclusive leases.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease is a held lock; Token identifies the holder on release.
type Lease struct {
	Key   string
	Token string
}

// Locker hands out leases that expire on their own after ttl.
type Locker interface {
	// TryAcquire returns ok=false without blocking when the key is held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (l *Lease, ok bool, err error)
	Release(ctx context.Context, l *Lease) error
}

// PlanKey names the per-user plan generation lease.
func PlanKey(userID int64) string {
	return fmt.Sprintf("plan:user:%d", userID)
}

// EnrichKey names the per-activity evaluation lease.
func EnrichKey(activityID int64) string {
	return fmt.Sprintf("enrich:activity:%d", activityID)
}

func newToken() string {
	return uuid.NewString()
}

// SQLStore is the subset of the datastore the SQL locker needs
type SQLStore interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// SQLLocker keeps leases in the application database.
type SQLLocker struct {
	store SQLStore
}

func NewSQLLocker(s SQLStore) *SQLLocker {
	return &SQLLocker{store: s}
}

func (l *SQLLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	token := newToken()
	ok, err := l.store.AcquireLease(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token}, true, nil
}

func (l *SQLLocker) Release(ctx context.Context, le *Lease) error {
	if le == nil {
		return nil
	}
	return l.store.ReleaseLease(ctx, le.Key, le.Token)
}
