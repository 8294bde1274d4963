package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lararun/internal/analysis"
	"lararun/internal/app"
	"lararun/internal/apperr"
	"lararun/internal/auth"
	"lararun/internal/config"
	"lararun/internal/logger"
	"lararun/internal/store"
)

const usage = `Usage: lararun <command> [flags]

Commands:
  serve                                   run workers, scheduler and metrics endpoint
  import [--user ID]                      import recent Strava activities
  generate-plans [--force]                generate 7-day plans for users with an active objective
  plan-today --user ID                    regenerate today's recommendation only
  evaluate (--activity ID | --user ID | --all)
                                          regenerate activity evaluations
  backfill-records [--user ID]            re-detect personal records from stored activities
  backfill-recovery                       compute missing per-activity recovery
  add-user --name NAME --email EMAIL [--locale nl] [--telegram-chat ID]
                                          create a runner
  set-objective --user ID --type 10km --target-date 2024-06-01 [--running-days tuesday,sunday]
                                          set the runner's active objective
  close-objective --user ID [--status completed|abandoned]
                                          end the runner's active objective
  feedback --user ID --date 2024-03-10 --status completed [--difficulty 1-5] [--enjoyment 1-5] [--notes TEXT]
                                          record how a planned workout went
  week --user ID                          show the plan for the next 7 days
  activities --user ID                    list imported runs
  records --user ID [--type fastest_5k]   show personal records
  jobs [--type TYPE | --id ID]            show queue status
  connect --user ID [--port 8089]         link a runner's Strava account
  init-config                             write an example config file
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Print(usage)
		return nil
	}
	cmd, args := args[0], args[1:]

	if cmd == "init-config" {
		return initConfig()
	}

	cfg, err := loadConfig()
	if err != nil || cfg == nil {
		return err
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, lg, app.Deps{})
	if err != nil {
		return err
	}
	defer application.Close()

	switch cmd {
	case "serve":
		return application.Serve(ctx)
	case "import":
		return runImport(ctx, application, args)
	case "generate-plans":
		return runGeneratePlans(ctx, application, args)
	case "plan-today":
		return runPlanToday(ctx, application, args)
	case "evaluate":
		return runEvaluate(ctx, application, args)
	case "backfill-records":
		return runBackfillRecords(ctx, application, args)
	case "add-user":
		return runAddUser(ctx, application, args)
	case "set-objective":
		return runSetObjective(ctx, application, args)
	case "close-objective":
		return runCloseObjective(ctx, application, args)
	case "feedback":
		return runFeedback(ctx, application, args)
	case "week":
		return runWeek(ctx, application, args)
	case "activities":
		return runActivities(ctx, application, args)
	case "records":
		return runRecords(ctx, application, args)
	case "jobs":
		return runJobs(ctx, application, args)
	case "connect":
		fs := flag.NewFlagSet("connect", flag.ExitOnError)
		userID := fs.Int64("user", 0, "user to connect")
		port := fs.Int("port", auth.CallbackPort, "local callback port registered with Strava")
		fs.Parse(args)
		if *userID <= 0 {
			return errors.New("connect requires --user")
		}
		if err := application.ConnectStrava(ctx, *userID, *port, os.Stdout); err != nil {
			return err
		}
		fmt.Println("Strava connected, importing recent activities...")
		return drain(ctx, application)
	case "backfill-recovery":
		n, err := application.Metrics.BackfillRecovery(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Computed recovery for %d activities\n", n)
		return nil
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func initConfig() error {
	if err := config.CreateExample(); err != nil {
		return fmt.Errorf("creating example config: %w", err)
	}
	path, _ := config.GetConfigPath()
	fmt.Printf("Example config written to:\n  %s\n", path)
	return nil
}

// loadConfig returns nil, nil when the user has been told how to fix the
// config and there is nothing more to do.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		fmt.Println("No config file found. Creating example config...")
		if err := initConfig(); err != nil {
			return nil, err
		}
		fmt.Println("\nYou need to add your Strava API credentials and an LLM API key.")
		fmt.Println("Get Strava credentials from: https://www.strava.com/settings/api")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		path, _ := config.GetConfigPath()
		fmt.Printf("Config validation failed: %v\n\n", err)
		fmt.Printf("Please edit the config file at:\n  %s\n", path)
		return nil, nil
	}
	return cfg, nil
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func drain(ctx context.Context, a *app.Application) error {
	n, err := a.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d jobs\n", n)
	return nil
}

func runImport(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	userID := fs.Int64("user", 0, "import only this user")
	fs.Parse(args)

	if _, err := a.EnqueueImport(ctx, optionalID(*userID)); err != nil {
		return err
	}
	return drain(ctx, a)
}

func runGeneratePlans(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("generate-plans", flag.ExitOnError)
	force := fs.Bool("force", false, "regenerate even when the next 7 days are planned")
	fs.Parse(args)

	n, err := a.EnqueueDailyPlans(ctx, *force)
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled plans for %d users\n", n)
	return drain(ctx, a)
}

func runPlanToday(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("plan-today", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user to plan for")
	fs.Parse(args)
	if *userID <= 0 {
		return errors.New("plan-today requires --user")
	}

	rec, err := a.Orchestrator.GenerateToday(ctx, *userID)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("A plan is already being generated for this user")
		return nil
	}
	fmt.Printf("%s  %s: %s\n\n%s\n", rec.Date, rec.Type, rec.Title, rec.Description)
	return nil
}

func runEvaluate(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	activityID := fs.Int64("activity", 0, "evaluate one activity")
	userID := fs.Int64("user", 0, "evaluate every activity of a user")
	all := fs.Bool("all", false, "evaluate every activity")
	fs.Parse(args)

	var ids []int64
	switch {
	case *activityID > 0:
		ids = []int64{*activityID}
	case *userID > 0 || *all:
		var err error
		if ids, err = a.Store.ListActivityIDs(ctx, optionalID(*userID)); err != nil {
			return err
		}
	default:
		return errors.New("evaluate requires --activity, --user or --all")
	}
	if len(ids) == 0 {
		fmt.Println("No activities found matching your criteria.")
		return nil
	}

	fmt.Printf("Evaluating %d activities...\n", len(ids))
	if err := a.EnqueueEvaluations(ctx, ids, true); err != nil {
		return err
	}
	return drain(ctx, a)
}

func runBackfillRecords(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("backfill-records", flag.ExitOnError)
	userID := fs.Int64("user", 0, "backfill only this user")
	fs.Parse(args)

	n, err := a.Records.Backfill(ctx, optionalID(*userID))
	if err != nil {
		return err
	}
	fmt.Printf("Set %d personal records\n", n)
	return nil
}

func runAddUser(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("add-user", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	locale := fs.String("locale", "en", "language for plans and evaluations (en or nl)")
	chatID := fs.Int64("telegram-chat", 0, "telegram chat for notifications")
	fs.Parse(args)
	if *name == "" || *email == "" {
		return errors.New("add-user requires --name and --email")
	}

	u := &store.User{Name: *name, Email: *email, Locale: *locale, TelegramChatID: optionalID(*chatID)}
	if err := a.Store.CreateUser(ctx, u); err != nil {
		return err
	}
	fmt.Printf("Created user %d\n", u.ID)
	return nil
}

func runSetObjective(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("set-objective", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user the objective belongs to")
	kind := fs.String("type", "", "5km, 10km, 21.1km, 42.2km or speed")
	target := fs.String("target-date", "", "target date (YYYY-MM-DD)")
	days := fs.String("running-days", "", "comma-separated weekdays available for running")
	description := fs.String("description", "", "free-text goal description")
	enhancement := fs.String("enhancement", "", "extra instructions for the coach")
	fs.Parse(args)

	targetDate, err := time.Parse(store.DateLayout, *target)
	if err != nil {
		return fmt.Errorf("--target-date: %w", err)
	}
	o := &store.Objective{
		UserID:            *userID,
		Type:              *kind,
		TargetDate:        targetDate,
		Description:       optionalString(*description),
		EnhancementPrompt: optionalString(*enhancement),
	}
	if *days != "" {
		o.RunningDays = strings.Split(*days, ",")
	}
	if err := a.SetObjective(ctx, o); err != nil {
		if apperr.HasCode(err, apperr.CodeInvalidPayload) {
			fs.Usage()
		}
		return err
	}
	fmt.Printf("Objective %d is now active\n", o.ID)
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func requireUser(fs *flag.FlagSet, args []string) (int64, error) {
	userID := fs.Int64("user", 0, "user id")
	fs.Parse(args)
	if *userID <= 0 {
		return 0, fmt.Errorf("%s requires --user", fs.Name())
	}
	return *userID, nil
}

func runCloseObjective(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("close-objective", flag.ExitOnError)
	status := fs.String("status", string(store.ObjectiveCompleted), "completed or abandoned")
	userID, err := requireUser(fs, args)
	if err != nil {
		return err
	}

	o, err := a.CloseObjective(ctx, userID, store.ObjectiveStatus(*status))
	if err != nil {
		if apperr.HasCode(err, apperr.CodeInvalidPayload) {
			fs.Usage()
		}
		return err
	}
	fmt.Printf("Objective %d (%s) is now %s\n", o.ID, o.Type, o.Status)
	return nil
}

func runFeedback(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("feedback", flag.ExitOnError)
	date := fs.String("date", "", "date of the planned workout (YYYY-MM-DD)")
	status := fs.String("status", "", "completed, skipped or partially_completed")
	difficulty := fs.Int("difficulty", 0, "how hard it felt, 1-5")
	enjoyment := fs.Int("enjoyment", 0, "how much you enjoyed it, 1-5")
	notes := fs.String("notes", "", "anything the coach should know")
	userID, err := requireUser(fs, args)
	if err != nil {
		return err
	}
	if *date == "" {
		return errors.New("feedback requires --date")
	}

	f := &store.WorkoutFeedback{
		UserID:           userID,
		Status:           store.FeedbackStatus(*status),
		DifficultyRating: optionalRating(*difficulty),
		EnjoymentRating:  optionalRating(*enjoyment),
		Notes:            optionalString(*notes),
	}
	if err := a.SaveFeedback(ctx, *date, f); err != nil {
		if apperr.HasCode(err, apperr.CodeInvalidPayload) {
			fs.Usage()
		}
		return err
	}
	fmt.Printf("Feedback saved for %s\n", *date)
	return nil
}

func runWeek(ctx context.Context, a *app.Application, args []string) error {
	userID, err := requireUser(flag.NewFlagSet("week", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	recs, err := a.Week(ctx, userID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No plan yet. Run generate-plans first.")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%s  %-14s %s\n", r.Date, r.Type, r.Title)
	}
	return nil
}

func runActivities(ctx context.Context, a *app.Application, args []string) error {
	userID, err := requireUser(flag.NewFlagSet("activities", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	acts, err := a.Store.ListUserActivities(ctx, userID)
	if err != nil {
		return err
	}
	for _, act := range acts {
		date := "-"
		if act.StartDate != nil {
			date = act.StartDate.Format(store.DateLayout)
		}
		intensity := "-"
		if act.IntensityScore != nil {
			intensity = strconv.FormatFloat(*act.IntensityScore, 'f', 2, 64)
		}
		fmt.Printf("%s  %-24s %8s %8s  %s/km  intensity %s\n", date, act.Name,
			analysis.FormatDistance(act.Distance), analysis.FormatDuration(act.MovingTime),
			analysis.FormatPace(act.MovingTime, act.Distance), intensity)
	}
	return nil
}

func runRecords(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	recordType := fs.String("type", "", "show a single record type")
	userID, err := requireUser(fs, args)
	if err != nil {
		return err
	}

	var records []store.PersonalRecord
	if *recordType != "" {
		if _, err := analysis.ParseRecordType(*recordType); err != nil {
			return err
		}
		pr, err := a.Store.GetPersonalRecord(ctx, userID, *recordType)
		if err != nil {
			return err
		}
		records = append(records, *pr)
	} else if records, err = a.Store.ListPersonalRecords(ctx, userID); err != nil {
		return err
	}

	for _, pr := range records {
		rt, err := analysis.ParseRecordType(pr.RecordType)
		if err != nil {
			return err
		}
		fmt.Printf("%-22s %10s  %s (activity %d)\n", pr.RecordType, formatRecord(rt, pr.Value),
			pr.AchievedDate.Format(store.DateLayout), pr.ActivityID)
	}
	return nil
}

func formatRecord(rt analysis.RecordType, value float64) string {
	switch rt {
	case analysis.LongestRun:
		return analysis.FormatDistance(value)
	case analysis.FastestPace:
		return analysis.FormatPace(int(value), 1000) + "/km"
	default:
		return analysis.FormatDuration(int(value))
	}
}

func runJobs(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	jobType := fs.String("type", "", "list jobs of this type")
	jobID := fs.Int64("id", 0, "show one job")
	fs.Parse(args)

	switch {
	case *jobID > 0:
		j, err := a.Store.GetJob(ctx, *jobID)
		if err != nil {
			return err
		}
		printJob(*j)
		fmt.Printf("payload: %s\n", j.Payload)
		if j.LastError != "" {
			fmt.Printf("last error: %s\n", j.LastError)
		}
	case *jobType != "":
		jobs, err := a.Store.ListJobs(ctx, *jobType)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			printJob(j)
		}
	default:
		counts, err := a.Store.CountJobsByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range []store.JobStatus{store.JobPending, store.JobRunning, store.JobDone, store.JobFailed} {
			fmt.Printf("%-8s %d\n", status, counts[status])
		}
	}
	return nil
}

func printJob(j store.Job) {
	fmt.Printf("%6d  %-18s %-8s attempts=%d  run_after=%s\n", j.ID, j.Type, j.Status, j.Attempts,
		j.RunAfter.Format(time.RFC3339))
}

func optionalRating(r int) *int {
	if r == 0 {
		return nil
	}
	return &r
}
