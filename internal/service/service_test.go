package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lararun/internal/analysis"
	"lararun/internal/auth"
	"lararun/internal/events"
	"lararun/internal/logger"
	"lararun/internal/queue"
	"lararun/internal/store"
	"lararun/internal/strava"
)

func ptr[T any](v T) *T { return &v }

func setupStore(t *testing.T) (*store.Store, *store.User) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	u := &store.User{Name: "Test Runner", Email: "runner@example.com", AccessToken: "access", RefreshToken: "refresh"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return s, u
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ActivityChanged
}

func (p *recordingPublisher) Publish(ctx context.Context, evt events.ActivityChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type fakeClient struct {
	activities []strava.Activity
	zones      map[int64][]strava.ActivityZone
	listErr    error
	zoneErr    error
	zoneCalls  int
}

func (c *fakeClient) ListActivities(ctx context.Context, limit int) ([]strava.Activity, error) {
	return c.activities, c.listErr
}

func (c *fakeClient) GetActivityZones(ctx context.Context, id int64) ([]strava.ActivityZone, error) {
	c.zoneCalls++
	if c.zoneErr != nil {
		return nil, c.zoneErr
	}
	return c.zones[id], nil
}

func hrZones(seconds ...float64) []strava.ActivityZone {
	z := strava.ActivityZone{Type: "heartrate"}
	for _, s := range seconds {
		z.DistributionBuckets = append(z.DistributionBuckets, strava.ZoneBucket{Time: s})
	}
	return []strava.ActivityZone{{Type: "pace"}, z}
}

// flakyPublisher fails while down is set and records what it delivers.
type flakyPublisher struct {
	recordingPublisher
	down bool
}

func (p *flakyPublisher) Publish(ctx context.Context, evt events.ActivityChanged) error {
	if p.down {
		return errors.New("broker unavailable")
	}
	return p.recordingPublisher.Publish(ctx, evt)
}

func newWriter(s *store.Store, pub events.Publisher) *ActivityWriter {
	return NewActivityWriter(s, events.NewRelay(s, pub, logger.Nop()), logger.Nop())
}

func newImporter(s *store.Store, client ActivityClient, pub events.Publisher) *Importer {
	writer := newWriter(s, pub)
	factory := func(ctx context.Context, u *store.User) ActivityClient { return client }
	return NewImporter(s, writer, factory, 30, logger.Nop())
}

func TestImporter_ImportsRunsOnce(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)

	client := &fakeClient{
		activities: []strava.Activity{
			{ID: 11, Name: "Tempo", Type: "Run", StartDate: start, Distance: 5100, MovingTime: 1440, ElapsedTime: 1500},
			{ID: 12, Name: "Commute", Type: "Ride", StartDate: start, Distance: 12000, MovingTime: 2400},
			{ID: 13, Name: "Treadmill", Type: "Run", StartDate: start.Add(time.Hour), Distance: 3000, MovingTime: 1000},
		},
		zones: map[int64][]strava.ActivityZone{11: hrZones(300, 600, 400, 150, 50)},
	}
	pub := &recordingPublisher{}
	imp := newImporter(s, client, pub)

	res := imp.ImportForUser(ctx, u)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, pub.events, 2)
	assert.Equal(t, events.Created, pub.events[0].Kind)

	acts, err := s.ListUserActivities(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, acts, 2)

	tempo := acts[0]
	assert.Equal(t, int64(11), tempo.ExternalID)
	assert.True(t, tempo.ZoneDataAvailable)
	assert.Equal(t, 600, tempo.Z2Time)
	require.NotNil(t, tempo.IntensityScore)
	assert.Equal(t, 59.17, *tempo.IntensityScore)
	require.NotNil(t, tempo.ZoneData)

	treadmill := acts[1]
	assert.False(t, treadmill.ZoneDataAvailable)
	assert.Equal(t, 0, treadmill.Z1Time+treadmill.Z5Time)
	require.NotNil(t, treadmill.IntensityScore)
	assert.Equal(t, 0.0, *treadmill.IntensityScore)

	// second run is a no-op
	client.zoneCalls = 0
	res = imp.ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 0, client.zoneCalls)
	assert.Len(t, pub.events, 2)

	acts, err = s.ListUserActivities(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 2)
}

func TestImporter_AbandonsOnPlatformErrors(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()

	imp := newImporter(s, &fakeClient{listErr: errors.New("401 unauthorized")}, &recordingPublisher{})
	res := imp.ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Imported)

	client := &fakeClient{
		activities: []strava.Activity{{ID: 21, Type: "Run", Distance: 5000, MovingTime: 1500}},
		zoneErr:    errors.New("503"),
	}
	imp = newImporter(s, client, &recordingPublisher{})
	res = imp.ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Imported)

	exists, err := s.ActivityExists(ctx, 21)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImporter_SkipsUsersWithoutTokens(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	u := &store.User{Name: "Offline", Email: "offline@example.com"}
	require.NoError(t, s.CreateUser(ctx, u))

	client := &fakeClient{activities: []strava.Activity{{ID: 1, Type: "Run"}}}
	res := newImporter(s, client, &recordingPublisher{}).ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Fetched)
}

func TestImporter_StravaRefreshesExpiringToken(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	expiring := time.Now().Add(2 * time.Minute)
	require.NoError(t, s.UpdateStravaTokens(ctx, u.ID, "old-access", "old-refresh", expiring))
	u, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":21600}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer new-access", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/athlete/activities":
			_, _ = w.Write([]byte(`[{"id": 77, "name": "Long Run", "type": "Run", "start_date": "2024-03-03T08:00:00Z",
				"distance": 21000, "moving_time": 6300, "elapsed_time": 6400}]`))
		case "/activities/77/zones":
			_, _ = w.Write([]byte(`[{"type": "heartrate", "distribution_buckets": [
				{"time": 600}, {"time": 4200}, {"time": 1200}, {"time": 300}, {"time": 0}]}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer apiSrv.Close()

	oauthCfg := auth.NewOAuthConfig(auth.Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL})
	factory := NewStravaClientFactory(oauthCfg, s,
		strava.WithBaseURL(apiSrv.URL),
		strava.WithRateLimiter(strava.NewRateLimiter(strava.WithMinInterval(0))),
	)
	imp := NewImporter(s, newWriter(s, &recordingPublisher{}), factory, 10, logger.Nop())

	res := imp.ImportForUser(ctx, u)
	assert.Equal(t, 1, res.Imported)

	refreshed, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", refreshed.AccessToken)
	assert.Equal(t, "new-refresh", refreshed.RefreshToken)
	require.NotNil(t, refreshed.TokenExpiresAt)
	assert.True(t, refreshed.TokenExpiresAt.After(time.Now().Add(time.Hour)))
}

func TestActivityWriter_PublishesChangeSets(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	w := newWriter(s, pub)

	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	a := &store.Activity{UserID: u.ID, ExternalID: 5, Name: "Run", Type: "Run", Distance: 5000, MovingTime: 1500, StartDate: &start}
	created, err := w.Create(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	created, err = w.Create(ctx, &store.Activity{UserID: u.ID, ExternalID: 5, Type: "Run"})
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, w.SetEvaluation(ctx, a.ID, "Nice", "Long text"))
	// same text again changes nothing
	require.NoError(t, w.SetEvaluation(ctx, a.ID, "Nice", "Long text"))

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.Created, pub.events[0].Kind)
	assert.Equal(t, a.ID, pub.events[0].ActivityID)
	assert.Equal(t, u.ID, pub.events[0].UserID)
	assert.True(t, pub.events[0].TriggersPipeline())
	assert.Equal(t, []events.Field{events.FieldShortEvaluation, events.FieldExtendedEvaluation}, pub.events[1].Changed)
	assert.False(t, pub.events[1].TriggersPipeline())

	assert.ErrorIs(t, w.SetEvaluation(ctx, 999, "x", "y"), store.ErrActivityNotFound)
}

func TestImporter_DeliversChangeAfterPublishFailure(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)

	client := &fakeClient{activities: []strava.Activity{
		{ID: 31, Name: "Tempo", Type: "Run", StartDate: start, Distance: 8000, MovingTime: 2400, ElapsedTime: 2450},
	}}
	pub := &flakyPublisher{down: true}
	imp := newImporter(s, client, pub)

	res := imp.ImportForUser(ctx, u)
	assert.Equal(t, 1, res.Imported)
	assert.Empty(t, pub.events)

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// the next run has nothing new to import but still delivers the change
	pub.down = false
	res = imp.ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.Created, pub.events[0].Kind)
	assert.Equal(t, pending[0].ActivityID, pub.events[0].ActivityID)

	pending, err = s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// quotaClient reports a fixed Strava quota.
type quotaClient struct {
	fakeClient
	statusCalls int
}

func (c *quotaClient) RateLimitStatus() (int, int) {
	c.statusCalls++
	return 90, 950
}

func TestImporter_RecordsQuotaEvenWhenAbandoned(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()

	client := &quotaClient{fakeClient: fakeClient{listErr: errors.New("429 too many requests")}}
	res := newImporter(s, client, &recordingPublisher{}).ImportForUser(ctx, u)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, client.statusCalls)
}

type recordingQueue struct {
	jobs []string
	last map[string]any
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobType string, payload any) (int64, error) {
	q.jobs = append(q.jobs, jobType)
	if q.last == nil {
		q.last = make(map[string]any)
	}
	q.last[jobType] = payload
	return int64(len(q.jobs)), nil
}

func TestDispatcher(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	q := &recordingQueue{}
	d := NewDispatcher(s, q, logger.Nop())

	require.NoError(t, d.Handle(ctx, events.ActivityChanged{Kind: events.Created, ActivityID: 1, UserID: u.ID}))
	assert.Equal(t, []string{queue.TypeEnrichActivity, queue.TypeDetectRecords}, q.jobs)
	assert.Equal(t, queue.ActivityPayload{ActivityID: 1, Notify: true}, q.last[queue.TypeEnrichActivity])
	chain := queue.ActivityPayload{ActivityID: 1, UserID: u.ID, Chain: true}
	assert.Equal(t, chain, q.last[queue.TypeDetectRecords])

	q.jobs = nil
	require.NoError(t, d.Handle(ctx, events.ActivityChanged{Kind: events.Updated, ActivityID: 1, UserID: u.ID, Changed: []events.Field{events.FieldMovingTime}}))
	assert.Equal(t, []string{queue.TypeEnrichActivity, queue.TypeDetectRecords}, q.jobs)

	q.jobs = nil
	require.NoError(t, d.Handle(ctx, events.ActivityChanged{Kind: events.Updated, ActivityID: 1, UserID: u.ID, Changed: []events.Field{events.FieldShortEvaluation}}))
	assert.Empty(t, q.jobs)
}

func TestDispatcher_ChainEndsWithSilentPlanRefresh(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	q := &recordingQueue{}
	d := NewDispatcher(s, q, logger.Nop())
	chain := queue.ActivityPayload{ActivityID: 1, UserID: u.ID, Chain: true}

	require.NoError(t, d.RecordsDetected(ctx, chain))
	assert.Equal(t, []string{queue.TypeComputeRecovery}, q.jobs)
	assert.Equal(t, chain, q.last[queue.TypeComputeRecovery])

	// no objective: the chain stops after recovery
	q.jobs = nil
	require.NoError(t, d.RecoveryComputed(ctx, chain))
	assert.Empty(t, q.jobs)

	require.NoError(t, s.CreateObjective(ctx, &store.Objective{UserID: u.ID, Type: "10km", TargetDate: time.Now().AddDate(0, 2, 0)}))
	require.NoError(t, d.RecoveryComputed(ctx, chain))
	assert.Equal(t, []string{queue.TypeGeneratePlan}, q.jobs)
	assert.Equal(t, queue.PlanPayload{UserID: u.ID, Force: false, Notify: false}, q.last[queue.TypeGeneratePlan])
}

func insertRun(t *testing.T, s *store.Store, userID, externalID int64, start time.Time, meters float64, seconds int, intensity *float64) *store.Activity {
	t.Helper()
	a := &store.Activity{
		UserID: userID, ExternalID: externalID, Name: fmt.Sprintf("Run %d", externalID), Type: "Run",
		Distance: meters, MovingTime: seconds, ElapsedTime: seconds, StartDate: &start, IntensityScore: intensity,
	}
	created, err := s.InsertActivity(context.Background(), a, nil)
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func TestMetricsEngine_ActivityRecovery(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	m := NewMetricsEngine(s, logger.Nop())

	a := insertRun(t, s, u.ID, 1, time.Now(), 10000, 3000, ptr(4.0))
	ok, err := m.ComputeActivityRecovery(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, *got.RecoveryScore)
	assert.Equal(t, 16, *got.EstimatedRecoveryHours)

	unscored := insertRun(t, s, u.ID, 2, time.Now(), 5000, 1500, nil)
	ok, err = m.ComputeActivityRecovery(ctx, unscored.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.ComputeActivityRecovery(ctx, 999)
	require.ErrorIs(t, err, store.ErrActivityNotFound)
}

func TestMetricsEngine_CurrentRecovery(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMetricsEngine(s, logger.Nop())
	m.now = func() time.Time { return now }

	score, err := m.CurrentRecovery(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, score)

	// today: 50/10 * 1 = 5 fatigue; 3 days ago: 35/10 * 4/7 = 2; old run ignored
	insertRun(t, s, u.ID, 1, now.Add(-2*time.Hour), 10000, 3000, ptr(50.0))
	insertRun(t, s, u.ID, 2, now.Add(-3*24*time.Hour-time.Hour), 10000, 3000, ptr(35.0))
	insertRun(t, s, u.ID, 3, now.Add(-20*24*time.Hour), 10000, 3000, ptr(90.0))

	score, err = m.CurrentRecovery(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	s2, u2 := setupStore(t)
	m2 := NewMetricsEngine(s2, logger.Nop())
	m2.now = func() time.Time { return now }
	insertRun(t, s2, u2.ID, 1, now.Add(-time.Hour), 5000, 1500, ptr(10.0))
	score, err = m2.CurrentRecovery(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, score)
}

func TestMetricsEngine_BackfillRecovery(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	m := NewMetricsEngine(s, logger.Nop())

	insertRun(t, s, u.ID, 1, time.Now(), 5000, 1500, ptr(2.0))
	insertRun(t, s, u.ID, 2, time.Now(), 5000, 1500, ptr(3.0))
	insertRun(t, s, u.ID, 3, time.Now(), 5000, 1500, nil)

	n, err := m.BackfillRecovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.BackfillRecovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecordDetector_FiveK(t *testing.T) {
	s, u := setupStore(t)
	ctx := context.Background()
	d := NewRecordDetector(s, logger.Nop())

	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	a := insertRun(t, s, u.ID, 1, start, 5100, 1440, nil)

	set, err := d.Detect(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []analysis.RecordType{analysis.Fastest5K, analysis.LongestRun, analysis.FastestPace}, set)

	pr, err := s.GetPersonalRecord(ctx, u.ID, "fastest_5k")
	require.NoError(t, err)
	assert.Equal(t, 1440.0, pr.Value)
	assert.Equal(t, a.ID, pr.ActivityID)
	assert.True(t, pr.AchievedDate.Equal(start))

	// re-running changes nothing
	set, err = d.Detect(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestCompareModeFollowsRecordType(t *testing.T) {
	for _, rt := range analysis.AllRecordTypes {
		want := store.CompareLowerWins
		if rt == analysis.LongestRun {
			want = store.CompareHigherWins
		}
		assert.Equal(t, want, compareMode(rt), rt.String())
	}
}

func TestRecordDetector_BackfillConvergesInAnyOrder(t *testing.T) {
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	runs := []struct {
		meters  float64
		seconds int
	}{
		{5000, 1500},
		{10100, 2900},
		{4900, 1380},
		{21000, 6600},
		{800, 120},
	}

	final := func(order []int) map[string]float64 {
		s, u := setupStore(t)
		for i, idx := range order {
			r := runs[idx]
			insertRun(t, s, u.ID, int64(i+1), start.AddDate(0, 0, i), r.meters, r.seconds, nil)
		}
		_, err := NewRecordDetector(s, logger.Nop()).Backfill(context.Background(), &u.ID)
		require.NoError(t, err)

		prs, err := s.ListPersonalRecords(context.Background(), u.ID)
		require.NoError(t, err)
		out := make(map[string]float64)
		for _, pr := range prs {
			out[pr.RecordType] = pr.Value
		}
		return out
	}

	forward := final([]int{0, 1, 2, 3, 4})
	backward := final([]int{4, 3, 2, 1, 0})
	assert.Equal(t, forward, backward)
	assert.Equal(t, 1380.0, forward["fastest_5k"])
	assert.Equal(t, 2900.0, forward["fastest_10k"])
	assert.Equal(t, 6600.0, forward["fastest_half_marathon"])
	assert.Equal(t, 21000.0, forward["longest_run"])
	assert.NotContains(t, forward, "fastest_marathon")
}
