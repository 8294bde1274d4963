package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"lararun/internal/analysis"
	"lararun/internal/auth"
	"lararun/internal/logger"
	"lararun/internal/observability"
	"lararun/internal/store"
	"lararun/internal/strava"
)

const (
	// TrackedActivityType is the only activity type imported and scored
	TrackedActivityType = "Run"

	// DefaultImportLimit is how many recent activities one import looks at
	DefaultImportLimit = 30
)

// ActivityClient is the part of the Strava API the importer uses
type ActivityClient interface {
	ListActivities(ctx context.Context, limit int) ([]strava.Activity, error)
	GetActivityZones(ctx context.Context, activityID int64) ([]strava.ActivityZone, error)
}

// ClientFactory builds an API client acting on behalf of one user.
type ClientFactory func(ctx context.Context, user *store.User) ActivityClient

// NewStravaClientFactory returns a factory whose clients refresh the user's
// token when it expires within auth.RefreshWindow and persist the result.
func NewStravaClientFactory(oauthCfg *oauth2.Config, s *store.Store, opts ...strava.Option) ClientFactory {
	return func(ctx context.Context, user *store.User) ActivityClient {
		token := &oauth2.Token{
			AccessToken:  user.AccessToken,
			RefreshToken: user.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       tokenExpiry(user),
		}
		userID := user.ID
		ts := auth.NewTokenSource(ctx, oauthCfg, token, func(ctx context.Context, t *oauth2.Token) error {
			return s.UpdateStravaTokens(ctx, userID, t.AccessToken, t.RefreshToken, t.Expiry)
		})
		return strava.NewClient(ctx, ts, opts...)
	}
}

// ImportResult summarises one import run for a user
type ImportResult struct {
	Fetched  int
	Skipped  int
	Imported int
}

// Importer pulls recent activities from Strava into the store.
type Importer struct {
	store   *store.Store
	writer  *ActivityWriter
	clients ClientFactory
	limit   int
	log     *logger.Logger
}

func NewImporter(s *store.Store, writer *ActivityWriter, clients ClientFactory, limit int, log *logger.Logger) *Importer {
	if limit <= 0 {
		limit = DefaultImportLimit
	}
	return &Importer{
		store:   s,
		writer:  writer,
		clients: clients,
		limit:   limit,
		log:     log.With("component", "ActivityImporter"),
	}
}

// ImportForUser imports the user's most recent activities. Failures talking
// to Strava abandon this run for the user and are only logged; the next
// scheduled run picks up where this one stopped.
func (imp *Importer) ImportForUser(ctx context.Context, user *store.User) *ImportResult {
	log := imp.log.With("user_id", user.ID)
	result := &ImportResult{}

	if n, err := imp.writer.Flush(ctx); err != nil {
		log.Warn("delivering pending activity changes failed", "error", err)
	} else if n > 0 {
		log.Info("delivered pending activity changes", "events", n)
	}

	if !user.HasStravaTokens() {
		log.Info("user has no strava connection, skipping import")
		return result
	}

	client := imp.clients(ctx, user)
	defer recordQuota(log, client)
	activities, err := client.ListActivities(ctx, imp.limit)
	if err != nil {
		log.Warn("listing strava activities failed, abandoning import", "error", err)
		return result
	}
	result.Fetched = len(activities)

	for _, sa := range activities {
		if sa.Type != TrackedActivityType {
			result.Skipped++
			continue
		}

		exists, err := imp.store.ActivityExists(ctx, sa.ID)
		if err != nil {
			log.Error("checking activity existence failed", "strava_id", sa.ID, "error", err)
			return result
		}
		if exists {
			result.Skipped++
			continue
		}

		zones, err := client.GetActivityZones(ctx, sa.ID)
		if err != nil {
			log.Warn("fetching activity zones failed, abandoning import", "strava_id", sa.ID, "error", err)
			return result
		}

		a, err := convertActivity(user.ID, sa, zones)
		if err != nil {
			log.Error("converting activity failed", "strava_id", sa.ID, "error", err)
			continue
		}

		created, err := imp.writer.Create(ctx, a)
		if err != nil {
			log.Error("storing activity failed", "strava_id", sa.ID, "error", err)
			if created {
				result.Imported++
			}
			continue
		}
		if !created {
			result.Skipped++
			continue
		}
		result.Imported++
		log.Debug("imported activity", "activity_id", a.ID, "strava_id", sa.ID, "intensity", *a.IntensityScore)
	}

	observability.RecordActivitiesImported(result.Imported)
	log.Info("import finished", "fetched", result.Fetched, "imported", result.Imported, "skipped", result.Skipped)
	return result
}

// recordQuota publishes the client's remaining Strava quota, including
// after an abandoned run.
func recordQuota(log *logger.Logger, client ActivityClient) {
	rl, ok := client.(rateLimited)
	if !ok {
		return
	}
	short, daily := rl.RateLimitStatus()
	observability.SetStravaRateLimitRemaining(short, daily)
	log.Debug("strava quota", "short_remaining", short, "daily_remaining", daily)
}

// rateLimited is implemented by clients that track the Strava request quota.
type rateLimited interface {
	RateLimitStatus() (shortRemaining, dailyRemaining int)
}

// ImportAll runs ImportForUser for every connected user.
func (imp *Importer) ImportAll(ctx context.Context) error {
	users, err := imp.store.ListUsersWithStravaTokens(ctx)
	if err != nil {
		return fmt.Errorf("listing connected users: %w", err)
	}
	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		imp.ImportForUser(ctx, &users[i])
	}
	return nil
}

// convertActivity maps a Strava summary plus its zone breakdown onto a
// stored activity. Without a heart-rate zone group all zones are zero and
// zone_data_available is false.
func convertActivity(userID int64, sa strava.Activity, zones []strava.ActivityZone) (*store.Activity, error) {
	start := sa.StartDate.UTC()
	a := &store.Activity{
		UserID:      userID,
		ExternalID:  sa.ID,
		Name:        sa.Name,
		Type:        sa.Type,
		Distance:    sa.Distance,
		MovingTime:  sa.MovingTime,
		ElapsedTime: sa.ElapsedTime,
	}
	if !start.IsZero() {
		a.StartDate = &start
	}

	var z analysis.Zones
	if hr := strava.HeartRateZones(zones); hr != nil {
		seconds := make([]int, len(hr.DistributionBuckets))
		for i, b := range hr.DistributionBuckets {
			seconds[i] = int(b.Time)
		}
		z = analysis.FromBuckets(seconds)
		a.ZoneDataAvailable = true
	}
	if len(zones) > 0 {
		raw, err := json.Marshal(zones)
		if err != nil {
			return nil, fmt.Errorf("encoding zone payload: %w", err)
		}
		payload := string(raw)
		a.ZoneData = &payload
	}

	a.Z1Time, a.Z2Time, a.Z3Time, a.Z4Time, a.Z5Time = z.Z1, z.Z2, z.Z3, z.Z4, z.Z5
	intensity := z.IntensityScore()
	a.IntensityScore = &intensity
	return a, nil
}

// tokenExpiry is the stored expiry or the zero time.
func tokenExpiry(u *store.User) time.Time {
	if u.TokenExpiresAt == nil {
		return time.Time{}
	}
	return *u.TokenExpiresAt
}
