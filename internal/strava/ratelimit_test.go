package strava

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_UpdateFromHeaders(t *testing.T) {
	rl := NewRateLimiter()
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "200,2000")
	h.Set("X-RateLimit-Usage", "150,1900")
	rl.UpdateFromHeaders(h)

	short, daily := rl.Status()
	assert.Equal(t, 50, short)
	assert.Equal(t, 100, daily)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(WithMinInterval(time.Hour))
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiter_ShortWindowExhausted(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(WithMinInterval(0))
	rl.now = func() time.Time { return now }

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100,1000")
	h.Set("X-RateLimit-Usage", "100,400")
	rl.UpdateFromHeaders(h)
	rl.short.resetsAt = now.Add(5 * time.Minute)

	assert.Equal(t, 5*time.Minute, rl.reserve())

	now = now.Add(5 * time.Minute)
	assert.Zero(t, rl.reserve())
	short, daily := rl.Status()
	assert.Equal(t, 99, short)
	assert.Equal(t, 599, daily)
}

func TestRateLimiter_IgnoresMalformedHeaders(t *testing.T) {
	rl := NewRateLimiter()
	h := http.Header{}
	h.Set("X-RateLimit-Usage", "oops")
	rl.UpdateFromHeaders(h)

	short, daily := rl.Status()
	assert.Equal(t, 100, short)
	assert.Equal(t, 1000, daily)
}
