package coach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lararun/internal/lease"
	"lararun/internal/llm"
	"lararun/internal/logger"
	"lararun/internal/notify"
	"lararun/internal/observability"
	"lararun/internal/store"
)

// DefaultLeaseTTL bounds how long a crashed run can block the next one.
const DefaultLeaseTTL = time.Hour

// Options selects between the three plan call patterns: forced and
// notified, unforced and notified, unforced and silent.
type Options struct {
	Force  bool
	Notify bool
}

// Outcome is how a generation run ended
type Outcome string

const (
	OutcomeGenerated    Outcome = observability.PlanGenerated
	OutcomeSkippedGuard Outcome = observability.PlanSkippedGuard
	OutcomeSkippedLease Outcome = observability.PlanSkippedLease
	OutcomeNoObjective  Outcome = "no_objective"
	OutcomeFailed       Outcome = observability.PlanFailed
)

// Orchestrator keeps a contiguous seven-day plan in place for each user.
type Orchestrator struct {
	store    *store.Store
	builder  *ContextBuilder
	gen      llm.Generator
	locker   lease.Locker
	notifier notify.Notifier
	leaseTTL time.Duration
	clock    Clock
	log      *logger.Logger
}

func NewOrchestrator(s *store.Store, builder *ContextBuilder, gen llm.Generator, locker lease.Locker,
	notifier notify.Notifier, leaseTTL time.Duration, clock Clock, log *logger.Logger) *Orchestrator {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Orchestrator{
		store:    s,
		builder:  builder,
		gen:      gen,
		locker:   locker,
		notifier: notifier,
		leaseTTL: leaseTTL,
		clock:    clock,
		log:      log.With("component", "PlanOrchestrator"),
	}
}

// Generate ensures the user has a plan for today through today+6. Unless
// forced, it returns early when that range is already filled. Only one run
// per user proceeds at a time; overlapping runs are dropped.
func (o *Orchestrator) Generate(ctx context.Context, userID int64, opts Options) (Outcome, error) {
	outcome, err := o.generate(ctx, userID, opts)
	observability.RecordPlanGeneration(string(outcome))
	return outcome, err
}

func (o *Orchestrator) generate(ctx context.Context, userID int64, opts Options) (Outcome, error) {
	log := o.log.With("user_id", userID, "force", opts.Force, "notify", opts.Notify)

	user, objective, err := o.loadUser(ctx, userID)
	if errors.Is(err, store.ErrObjectiveNotFound) {
		log.Info("user has no active objective, skipping plan generation")
		return OutcomeNoObjective, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	log = log.With("objective_id", objective.ID)

	today := o.clock.Today()
	skip, err := o.guard(ctx, log, userID, today, opts)
	if err != nil {
		return OutcomeFailed, err
	}
	if skip {
		return OutcomeSkippedGuard, nil
	}

	l, ok, err := o.locker.TryAcquire(ctx, lease.PlanKey(userID), o.leaseTTL)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		log.Info("plan generation already running for user, dropping")
		return OutcomeSkippedLease, nil
	}
	defer o.release(ctx, log, l)

	// a run holding the lease may have filled the week since the first check
	if skip, err = o.guard(ctx, log, userID, today, opts); err != nil {
		return OutcomeFailed, err
	}
	if skip {
		return OutcomeSkippedGuard, nil
	}

	log.Info("generating 7-day training plan")
	pc, err := o.builder.Build(ctx, user, objective)
	if err != nil {
		return OutcomeFailed, err
	}

	language := Language(user)
	out, err := o.gen.GenerateJSON(ctx, weeklySystemPrompt(language), weeklyPrompt(pc, language), SchemaWeeklyPlan, WeeklyPlanSchema(language))
	if err != nil {
		log.Error("plan generation failed", "error", err)
		return OutcomeFailed, fmt.Errorf("generating plan for user %d: %w", userID, err)
	}

	days, err := ParseWeeklyPlan(out, pc.Today)
	if err != nil {
		log.Error("generated plan rejected", "error", err)
		return OutcomeFailed, err
	}

	recs := make([]store.DailyRecommendation, len(days))
	for i, d := range days {
		recs[i] = d.Recommendation(user.ID, objective.ID)
	}
	if err := o.store.UpsertRecommendations(ctx, recs); err != nil {
		log.Error("storing plan failed", "error", err)
		return OutcomeFailed, fmt.Errorf("storing plan for user %d: %w", userID, err)
	}

	if opts.Notify {
		todayDate := pc.TodayDate()
		for i := range recs {
			if recs[i].Date == todayDate {
				o.notifier.NotifyPlanReady(ctx, user, &recs[i])
			}
		}
	}

	log.Info("7-day training plan generated", "from", recs[0].Date, "notified", opts.Notify)
	return OutcomeGenerated, nil
}

// guard reports whether an unforced run can stop because today through
// today+6 is already planned.
func (o *Orchestrator) guard(ctx context.Context, log *logger.Logger, userID int64, today time.Time, opts Options) (bool, error) {
	if opts.Force {
		return false, nil
	}
	filled, err := o.weekFilled(ctx, userID, today)
	if err != nil {
		return false, err
	}
	if filled {
		log.Info("plans for the next 7 days already exist, skipping")
	}
	return filled, nil
}

// GenerateToday regenerates only today's recommendation. It shares the
// per-user lease with Generate and never notifies.
func (o *Orchestrator) GenerateToday(ctx context.Context, userID int64) (*store.DailyRecommendation, error) {
	log := o.log.With("user_id", userID)

	user, objective, err := o.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	l, ok, err := o.locker.TryAcquire(ctx, lease.PlanKey(userID), o.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("plan generation already running for user, dropping")
		return nil, nil
	}
	defer o.release(ctx, log, l)

	pc, err := o.builder.Build(ctx, user, objective)
	if err != nil {
		return nil, err
	}

	language := Language(user)
	out, err := o.gen.GenerateJSON(ctx, dailySystemPrompt(language), dailyPrompt(pc, language), SchemaDailyPlan, DailyPlanSchema(language))
	if err != nil {
		return nil, fmt.Errorf("generating today's plan for user %d: %w", userID, err)
	}
	day, err := ParseDailyPlan(out, pc.TodayDate())
	if err != nil {
		return nil, err
	}

	recs := []store.DailyRecommendation{day.Recommendation(user.ID, objective.ID)}
	if err := o.store.UpsertRecommendations(ctx, recs); err != nil {
		return nil, fmt.Errorf("storing today's plan for user %d: %w", userID, err)
	}
	log.Info("daily training plan generated", "objective_id", objective.ID, "date", recs[0].Date)
	return &recs[0], nil
}

func (o *Orchestrator) loadUser(ctx context.Context, userID int64) (*store.User, *store.Objective, error) {
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	objective, err := o.store.CurrentObjective(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading objective for user %d: %w", userID, err)
	}
	return user, objective, nil
}

func (o *Orchestrator) weekFilled(ctx context.Context, userID int64, today time.Time) (bool, error) {
	from := today.Format(store.DateLayout)
	to := today.AddDate(0, 0, PlanDays-1).Format(store.DateLayout)
	n, err := o.store.CountRecommendationsInRange(ctx, userID, from, to)
	if err != nil {
		return false, fmt.Errorf("counting existing recommendations: %w", err)
	}
	return n >= PlanDays, nil
}

func (o *Orchestrator) release(ctx context.Context, log *logger.Logger, l *lease.Lease) {
	if err := o.locker.Release(context.WithoutCancel(ctx), l); err != nil {
		log.Warn("releasing plan lease failed", "key", l.Key, "error", err)
	}
}

func weeklySystemPrompt(language string) string {
	return fmt.Sprintf("You are Lararun's expert running coach. You provide highly personalized and scientifically sound "+
		"training plans for a full week in %s. You 'think hard' before providing a clear plan for each day.", language)
}

func weeklyPrompt(pc *PlanContext, language string) string {
	return pc.BasePrompt() +
		fmt.Sprintf("Generate a training plan for the upcoming 7 days, starting from today (%s), in %s.\n\n", pc.TodayLong(), language) +
		"Think hard about the best training sessions for each day to reach the objective. " +
		fmt.Sprintf("Consider fatigue, recovery, and the target date (%s). ", pc.Objective.TargetDate.Format(store.DateLayout)) +
		fmt.Sprintf("For each day, provide the type of run, title, description, reasoning, and the date (YYYY-MM-DD). All text fields must be in %s.", language)
}

func dailySystemPrompt(language string) string {
	return fmt.Sprintf("You are Lararun's expert running coach. You provide highly personalized and scientifically sound "+
		"training advice in %s.", language)
}

func dailyPrompt(pc *PlanContext, language string) string {
	return pc.BasePrompt() +
		fmt.Sprintf("Generate the training session for today (%s) in %s. ", pc.TodayLong(), language) +
		fmt.Sprintf("Consider fatigue, recovery, and the target date (%s). ", pc.Objective.TargetDate.Format(store.DateLayout)) +
		fmt.Sprintf("Provide the type of run, title, description and reasoning. All text fields must be in %s.", language)
}
