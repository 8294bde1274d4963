// Package coach turns a runner's history into AI-authored evaluations and
// training plans.
package coach

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lararun/internal/analysis"
	"lararun/internal/store"
)

const (
	// HistoryWindow bounds the activities included in prompts
	HistoryWindow = 30 * 24 * time.Hour

	// MaxHistoryActivities caps the activities included in prompts
	MaxHistoryActivities = 10

	// MaxRecentRecommendations is how many past recommendations, with
	// feedback, a plan prompt sees.
	MaxRecentRecommendations = 3

	// PlanDays is the length of a generated plan
	PlanDays = 7
)

// RecoveryScorer computes a user's current recovery score
type RecoveryScorer interface {
	CurrentRecovery(ctx context.Context, userID int64) (float64, error)
}

// Clock yields the current time in the timezone used for calendar dates.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// SystemClock uses time.Now in loc (UTC when nil).
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{Now: time.Now, Location: loc}
}

// Today returns the current time in the clock's location.
func (c Clock) Today() time.Time {
	return c.Now().In(c.Location)
}

// PlanContext is everything a plan prompt is built from.
type PlanContext struct {
	User            *store.User
	Objective       *store.Objective
	RecoveryScore   float64
	Activities      []store.Activity // newest first
	Recommendations []store.RecommendationWithFeedback
	Today           time.Time
	Location        *time.Location
}

// ContextBuilder assembles PlanContexts from the store.
type ContextBuilder struct {
	store    *store.Store
	recovery RecoveryScorer
	clock    Clock
}

func NewContextBuilder(s *store.Store, recovery RecoveryScorer, clock Clock) *ContextBuilder {
	return &ContextBuilder{store: s, recovery: recovery, clock: clock}
}

func (b *ContextBuilder) Build(ctx context.Context, user *store.User, objective *store.Objective) (*PlanContext, error) {
	today := b.clock.Today()

	score, err := b.recovery.CurrentRecovery(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("computing recovery score: %w", err)
	}

	activities, err := b.store.ListActivitiesSince(ctx, user.ID, today.Add(-HistoryWindow), MaxHistoryActivities)
	if err != nil {
		return nil, fmt.Errorf("loading recent activities: %w", err)
	}

	recs, err := b.store.RecentRecommendationsWithFeedback(ctx, user.ID, MaxRecentRecommendations)
	if err != nil {
		return nil, fmt.Errorf("loading recent recommendations: %w", err)
	}

	return &PlanContext{
		User:            user,
		Objective:       objective,
		RecoveryScore:   score,
		Activities:      activities,
		Recommendations: recs,
		Today:           today,
		Location:        b.clock.Location,
	}, nil
}

// Language is the language plans and evaluations are written in.
func Language(u *store.User) string {
	if strings.EqualFold(u.Locale, "nl") {
		return "Dutch"
	}
	return "English"
}

// TodayDate is today's calendar date (YYYY-MM-DD).
func (pc *PlanContext) TodayDate() string {
	return pc.Today.Format(store.DateLayout)
}

// TodayLong is today as "Monday, 2006-01-02".
func (pc *PlanContext) TodayLong() string {
	return pc.Today.Format("Monday, " + store.DateLayout)
}

// ObjectiveInfo describes the goal, the runner's profile and their current
// recovery score.
func (pc *PlanContext) ObjectiveInfo() string {
	o, u := pc.Objective, pc.User
	var b strings.Builder

	days := "Not specified"
	if len(o.RunningDays) > 0 {
		days = strings.Join(o.RunningDays, ", ")
	}
	fmt.Fprintf(&b, "Type: %s\n", o.Type)
	fmt.Fprintf(&b, "Target Date: %s\n", o.TargetDate.Format(store.DateLayout))
	fmt.Fprintf(&b, "Description: %s\n", deref(o.Description))
	fmt.Fprintf(&b, "Preferred Running Days: %s", days)

	if u.Age != nil {
		fmt.Fprintf(&b, "\nRunner Age: %d", *u.Age)
	}
	if u.WeightKg != nil {
		fmt.Fprintf(&b, "\nRunner Weight: %s kg", formatNumber(*u.WeightKg))
	}
	if u.FitnessLevel != nil {
		fmt.Fprintf(&b, "\nFitness Level: %s", *u.FitnessLevel)
	}
	if u.InjuryHistory != nil && *u.InjuryHistory != "" {
		fmt.Fprintf(&b, "\nInjury History: %s", *u.InjuryHistory)
	}
	if u.TrainingPreferences != nil && *u.TrainingPreferences != "" {
		fmt.Fprintf(&b, "\nTraining Preferences: %s", *u.TrainingPreferences)
	}
	fmt.Fprintf(&b, "\nCurrent Recovery Score: %s/10", formatNumber(pc.RecoveryScore))
	return b.String()
}

// HistoryText lists recent activities, newest first.
func (pc *PlanContext) HistoryText() string {
	if len(pc.Activities) == 0 {
		return "No previous activities in the last 30 days."
	}
	var b strings.Builder
	for _, a := range pc.Activities {
		b.WriteString("--- Activity ---\n")
		fmt.Fprintf(&b, "Date: %s\n", pc.date(a.StartDate))
		fmt.Fprintf(&b, "Distance: %s\n", analysis.FormatDistance(a.Distance))
		fmt.Fprintf(&b, "Intensity Score: %s\n", formatOptional(a.IntensityScore))
		if a.RecoveryScore != nil {
			fmt.Fprintf(&b, "Recovery Score: %s/10\n", formatNumber(*a.RecoveryScore))
		}
		fmt.Fprintf(&b, "Coach's Evaluation: %s\n", deref(a.ShortEvaluation))
	}
	return b.String()
}

// RecommendationsText lists the last recommendations with any feedback.
func (pc *PlanContext) RecommendationsText() string {
	if len(pc.Recommendations) == 0 {
		return "No previous recommendations."
	}
	var b strings.Builder
	for _, r := range pc.Recommendations {
		b.WriteString("--- Recommendation ---\n")
		fmt.Fprintf(&b, "Date: %s\n", r.Date)
		fmt.Fprintf(&b, "Type: %s\n", r.Type)
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
		if f := r.Feedback; f != nil {
			b.WriteString("User Feedback:\n")
			fmt.Fprintf(&b, "  Status: %s\n", f.Status)
			if f.DifficultyRating != nil {
				fmt.Fprintf(&b, "  Difficulty: %d/5\n", *f.DifficultyRating)
			}
			if f.EnjoymentRating != nil {
				fmt.Fprintf(&b, "  Enjoyment: %d/5\n", *f.EnjoymentRating)
			}
			if f.Notes != nil && *f.Notes != "" {
				fmt.Fprintf(&b, "  Notes: %s\n", *f.Notes)
			}
		}
	}
	return b.String()
}

// BasePrompt joins the sections shared by every plan prompt, followed by
// the objective's enhancement instructions when present.
func (pc *PlanContext) BasePrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n\n", pc.ObjectiveInfo())
	fmt.Fprintf(&b, "Recent History (Last 30 days):\n%s\n\n", pc.HistoryText())
	fmt.Fprintf(&b, "Last 3 Recommendations:\n%s\n\n", pc.RecommendationsText())
	fmt.Fprintf(&b, "Today is %s.\n\n", pc.TodayLong())
	if p := pc.Objective.EnhancementPrompt; p != nil && strings.TrimSpace(*p) != "" {
		fmt.Fprintf(&b, "Additional Enhancement Instructions:\n%s\n\n", strings.TrimSpace(*p))
	}
	return b.String()
}

func (pc *PlanContext) date(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	loc := pc.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(store.DateLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatNumber(*v)
}
