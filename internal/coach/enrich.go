package coach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lararun/internal/analysis"
	"lararun/internal/lease"
	"lararun/internal/llm"
	"lararun/internal/logger"
	"lararun/internal/notify"
	"lararun/internal/store"
)

// EvaluationWriter persists evaluation text. The production writer publishes
// an update event for it, which the change dispatcher ignores.
type EvaluationWriter interface {
	SetEvaluation(ctx context.Context, activityID int64, short, extended string) error
}

// Enricher writes an AI evaluation onto an activity.
type Enricher struct {
	store    *store.Store
	writer   EvaluationWriter
	gen      llm.Generator
	locker   lease.Locker
	notifier notify.Notifier
	leaseTTL time.Duration
	clock    Clock
	log      *logger.Logger
}

func NewEnricher(s *store.Store, writer EvaluationWriter, gen llm.Generator, locker lease.Locker,
	notifier notify.Notifier, leaseTTL time.Duration, clock Clock, log *logger.Logger) *Enricher {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Enricher{
		store:    s,
		writer:   writer,
		gen:      gen,
		locker:   locker,
		notifier: notifier,
		leaseTTL: leaseTTL,
		clock:    clock,
		log:      log.With("component", "ActivityEnricher"),
	}
}

// Enrich evaluates one activity. It reports false when another run for the
// same activity holds the lease.
func (e *Enricher) Enrich(ctx context.Context, activityID int64, sendNotification bool) (bool, error) {
	log := e.log.With("activity_id", activityID)

	l, ok, err := e.locker.TryAcquire(ctx, lease.EnrichKey(activityID), e.leaseTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Info("activity evaluation already running, dropping")
		return false, nil
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), l); err != nil {
			log.Warn("releasing evaluation lease failed", "error", err)
		}
	}()

	activity, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return false, fmt.Errorf("loading activity %d: %w", activityID, err)
	}
	user, err := e.store.GetUser(ctx, activity.UserID)
	if err != nil {
		return false, fmt.Errorf("loading user %d: %w", activity.UserID, err)
	}
	log = log.With("user_id", user.ID)
	log.Info("starting AI enrichment", "strava_id", activity.ExternalID)

	history, err := e.history(ctx, activity)
	if err != nil {
		return false, err
	}

	language := Language(user)
	prompt := fmt.Sprintf("Recent History (Last 30 days):\n%s\nCurrent Activity:\n%s", history, e.summary(activity))
	out, err := e.gen.GenerateJSON(ctx, evaluationSystemPrompt(language), prompt, SchemaEvaluation, EvaluationSchema(language))
	if err != nil {
		log.Error("activity evaluation failed", "error", err)
		return false, fmt.Errorf("evaluating activity %d: %w", activityID, err)
	}
	eval, err := ParseEvaluation(out)
	if err != nil {
		log.Error("activity evaluation rejected", "error", err)
		return false, err
	}

	if err := e.writer.SetEvaluation(ctx, activityID, eval.Short, eval.Extended); err != nil {
		return false, err
	}

	if sendNotification {
		activity.ShortEvaluation = &eval.Short
		activity.ExtendedEvaluation = &eval.Extended
		e.notifier.NotifyActivityEvaluated(ctx, user, activity)
	}
	log.Info("finished AI enrichment", "notified", sendNotification)
	return true, nil
}

func (e *Enricher) history(ctx context.Context, current *store.Activity) (string, error) {
	since := e.clock.Today().Add(-HistoryWindow)
	recent, err := e.store.ListActivitiesSince(ctx, current.UserID, since, MaxHistoryActivities+1)
	if err != nil {
		return "", fmt.Errorf("loading activity history: %w", err)
	}

	var b strings.Builder
	n := 0
	for i := range recent {
		if recent[i].ID == current.ID || n == MaxHistoryActivities {
			continue
		}
		b.WriteString("--- Activity ---\n")
		b.WriteString(e.summary(&recent[i]))
		n++
	}
	if n == 0 {
		return "No previous activities in the last 30 days.\n", nil
	}
	return b.String(), nil
}

func (e *Enricher) summary(a *store.Activity) string {
	var b strings.Builder
	date := "unknown"
	if a.StartDate != nil {
		date = a.StartDate.In(e.clock.Location).Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(&b, "Date: %s\n", date)
	fmt.Fprintf(&b, "Activity Name: %s\n", a.Name)
	fmt.Fprintf(&b, "Type: %s\n", a.Type)
	fmt.Fprintf(&b, "Distance: %s\n", analysis.FormatDistance(a.Distance))
	fmt.Fprintf(&b, "Moving Time: %s\n", analysis.FormatDuration(a.MovingTime))
	fmt.Fprintf(&b, "Average Pace: %s min/km\n", analysis.FormatPace(a.MovingTime, a.Distance))
	if a.ZoneDataAvailable {
		b.WriteString("Heart Rate Zones (time in seconds):\n")
		fmt.Fprintf(&b, "- Zone 1 (Recovery): %ds\n", a.Z1Time)
		fmt.Fprintf(&b, "- Zone 2 (Aerobic): %ds\n", a.Z2Time)
		fmt.Fprintf(&b, "- Zone 3 (Tempo): %ds\n", a.Z3Time)
		fmt.Fprintf(&b, "- Zone 4 (Threshold): %ds\n", a.Z4Time)
		fmt.Fprintf(&b, "- Zone 5 (Anaerobic): %ds\n", a.Z5Time)
		fmt.Fprintf(&b, "Intensity Score: %s\n", formatOptional(a.IntensityScore))
	}
	return b.String()
}

func evaluationSystemPrompt(language string) string {
	return fmt.Sprintf(`You are an expert running coach. You provide both brief encouraging feedback and detailed technical analysis.
The 'short_evaluation' and 'extended_evaluation' MUST be written in %s.
The 'extended_evaluation' MUST follow this exact structure and use Markdown formatting:

# Performance Analysis
## Summary of Activity
[An in-depth evaluation of the activity in 1-10 sentences.]
## Historical Trends (Last 10 Days)
[2-5 bullet points on pacing, heart rate consistency and distance/duration trends compared to the history.]
## Recommendations for Improvement
[2-5 bullet points on balanced intensity, recovery focus and progressive overload.]
## Additional Advice
[2-5 bullet points on listening to your body, consistency and hydration/nutrition.]

End with a summary sentence. Use the runner's history from the last month to identify trends or changes in performance.`, language)
}
