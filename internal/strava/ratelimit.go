package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strava allows 100 requests per 15 minutes and 1000 per day per application.
const (
	defaultShortLimit = 100
	defaultDailyLimit = 1000
	shortWindow       = 15 * time.Minute
)

// quota is one fixed rate-limit window.
type quota struct {
	limit    int
	used     int
	resetsAt time.Time
	next     func(now time.Time) time.Time
}

func (q *quota) roll(now time.Time) {
	if !now.Before(q.resetsAt) {
		q.used = 0
		q.resetsAt = q.next(now)
	}
}

// delay is how long until the window has room, zero if it has now.
func (q *quota) delay(now time.Time) time.Duration {
	if q.used < q.limit {
		return 0
	}
	return q.resetsAt.Sub(now)
}

// RateLimiter spaces requests to stay inside Strava's short and daily quotas.
// One limiter is shared by every user's client since quotas are per
// application.
type RateLimiter struct {
	mu          sync.Mutex
	short       quota
	daily       quota
	minInterval time.Duration
	last        time.Time
	now         func() time.Time
}

// RateLimiterOption adjusts a limiter's defaults
type RateLimiterOption func(*RateLimiter)

// WithMinInterval sets the minimum gap between consecutive requests.
func WithMinInterval(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.minInterval = d }
}

func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		short: quota{limit: defaultShortLimit, next: func(now time.Time) time.Time {
			return now.Add(shortWindow)
		}},
		daily: quota{limit: defaultDailyLimit, next: func(now time.Time) time.Time {
			return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		}},
		minInterval: 150 * time.Millisecond,
		now:         time.Now,
	}
	now := r.now()
	r.short.resetsAt = r.short.next(now)
	r.daily.resetsAt = r.daily.next(now)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until a request fits in both quotas and the minimum interval,
// then counts it. It returns ctx.Err() if ctx ends first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := r.reserve()
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve counts a request and returns zero, or returns how long to wait.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.short.roll(now)
	r.daily.roll(now)

	d := max(r.short.delay(now), r.daily.delay(now))
	if !r.last.IsZero() {
		d = max(d, r.minInterval-now.Sub(r.last))
	}
	if d > 0 {
		return d
	}

	r.short.used++
	r.daily.used++
	r.last = now
	return 0
}

// UpdateFromHeaders syncs usage with the X-RateLimit-Limit and
// X-RateLimit-Usage headers, both formatted "short,daily".
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if short, daily, ok := parsePair(h.Get("X-RateLimit-Usage")); ok {
		r.short.used, r.daily.used = short, daily
	}
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Limit")); ok {
		r.short.limit, r.daily.limit = short, daily
	}
}

func parsePair(v string) (int, int, bool) {
	first, second, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// Status returns the requests left in the short and daily windows.
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.short.limit - r.short.used, r.daily.limit - r.daily.used
}
