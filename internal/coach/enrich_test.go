package coach

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lararun/internal/apperr"
	"lararun/internal/lease"
	"lararun/internal/logger"
	"lararun/internal/store"
)

type storeWriter struct {
	s     *store.Store
	calls int
}

func (w *storeWriter) SetEvaluation(ctx context.Context, id int64, short, extended string) error {
	w.calls++
	return w.s.SetActivityEvaluation(ctx, id, short, extended, nil)
}

func setupEnricher(t *testing.T) (*fixture, *Enricher, *storeWriter, *store.Activity) {
	t.Helper()
	f := setup(t)
	ctx := context.Background()

	older := testNow.Add(-72 * time.Hour)
	prev := &store.Activity{UserID: f.user.ID, ExternalID: 1, Name: "Easy", Type: "Run", Distance: 6000, MovingTime: 2100, StartDate: &older}
	_, err := f.store.InsertActivity(ctx, prev, nil)
	require.NoError(t, err)

	start := testNow.Add(-3 * time.Hour)
	a := &store.Activity{
		UserID: f.user.ID, ExternalID: 2, Name: "Tempo Tuesday", Type: "Run", Distance: 10000, MovingTime: 2700,
		StartDate: &start, ZoneDataAvailable: true, Z2Time: 900, Z3Time: 1200, Z4Time: 600, IntensityScore: ptr(115.0),
	}
	_, err = f.store.InsertActivity(ctx, a, nil)
	require.NoError(t, err)

	f.gen.responses[SchemaEvaluation] = map[string]any{
		"short_evaluation":    "  Great controlled tempo.  ",
		"extended_evaluation": "# Performance Analysis\n...",
	}
	w := &storeWriter{s: f.store}
	e := NewEnricher(f.store, w, f.gen, f.locker, f.notifier, time.Hour, f.clock, logger.Nop())
	return f, e, w, a
}

func TestEnrich_StoresEvaluationAndNotifies(t *testing.T) {
	f, e, _, a := setupEnricher(t)
	ctx := context.Background()

	ok, err := e.Enrich(ctx, a.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.store.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ShortEvaluation)
	assert.Equal(t, "Great controlled tempo.", *got.ShortEvaluation)
	assert.Equal(t, "# Performance Analysis\n...", *got.ExtendedEvaluation)

	require.Len(t, f.gen.calls, 1)
	call := f.gen.calls[0]
	assert.Equal(t, SchemaEvaluation, call.schema)
	assert.Contains(t, call.system, "MUST be written in English")
	assert.Contains(t, call.user, "Activity Name: Easy")
	assert.Contains(t, call.user, "Current Activity:\nDate: 2024-03-10 05:00:00\nActivity Name: Tempo Tuesday")
	assert.Contains(t, call.user, "Average Pace: 4:30 min/km")
	assert.Contains(t, call.user, "- Zone 3 (Tempo): 1200s")
	assert.Contains(t, call.user, "Intensity Score: 115")

	require.Len(t, f.notifier.evaluated, 1)
	assert.Equal(t, "Great controlled tempo.", *f.notifier.evaluated[0].ShortEvaluation)
}

func TestEnrich_WithoutNotification(t *testing.T) {
	f, e, _, a := setupEnricher(t)

	ok, err := e.Enrich(context.Background(), a.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.notifier.evaluated)
}

func TestEnrich_DropsWhenLeaseHeld(t *testing.T) {
	f, e, w, a := setupEnricher(t)
	ctx := context.Background()

	_, held, err := f.locker.TryAcquire(ctx, lease.EnrichKey(a.ID), time.Hour)
	require.NoError(t, err)
	require.True(t, held)

	ok, err := e.Enrich(ctx, a.ID, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.gen.calls)
	assert.Zero(t, w.calls)
}

func TestEnrich_MalformedOutput(t *testing.T) {
	f, e, w, a := setupEnricher(t)
	f.gen.responses[SchemaEvaluation] = map[string]any{"short_evaluation": "ok"}

	_, err := e.Enrich(context.Background(), a.ID, true)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMalformedOutput))
	assert.Zero(t, w.calls)
	assert.Empty(t, f.notifier.evaluated)
}
