package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lararun/internal/store"
)

func exerciseLocker(t *testing.T, l Locker, key string) {
	t.Helper()
	ctx := context.Background()

	first, ok, err := l.TryAcquire(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, first.Token)

	_, ok, err = l.TryAcquire(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be dropped while held")

	require.NoError(t, l.Release(ctx, first))

	second, ok, err := l.TryAcquire(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx, second))

	// Releasing a stale lease must not free someone else's hold.
	third, ok, err := l.TryAcquire(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx, first))
	_, ok, err = l.TryAcquire(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, l.Release(ctx, third))
}

func TestSQLLocker(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseLocker(t, NewSQLLocker(s), PlanKey(1))
}

func TestSQLLocker_ExpiredLease(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	l := NewSQLLocker(s)
	ctx := context.Background()

	_, ok, err := l.TryAcquire(ctx, PlanKey(7), -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, PlanKey(7), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must not starve later runs")
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l, err := NewRedisLocker(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	exerciseLocker(t, l, PlanKey(time.Now().UnixNano()))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "plan:user:42", PlanKey(42))
	assert.Equal(t, "enrich:activity:9", EnrichKey(9))
}
