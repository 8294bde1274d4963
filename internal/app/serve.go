package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lararun/internal/events"
	"lararun/internal/observability"
)

// Schedule registers the recurring import and daily plan runs on c.
func (a *Application) Schedule(ctx context.Context, c *cron.Cron) error {
	if _, err := c.AddFunc(a.cfg.Schedule.Import, func() {
		if _, err := a.EnqueueImport(ctx, nil); err != nil {
			a.log.Error("scheduling import failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule.import %q: %w", a.cfg.Schedule.Import, err)
	}

	if _, err := c.AddFunc(a.cfg.Schedule.DailyPlans, func() {
		n, err := a.EnqueueDailyPlans(ctx, false)
		if err != nil {
			a.log.Error("scheduling daily plans failed", "error", err)
			return
		}
		a.log.Info("daily plans scheduled", "users", n)
	}); err != nil {
		return fmt.Errorf("schedule.daily_plans %q: %w", a.cfg.Schedule.DailyPlans, err)
	}
	return nil
}

// Serve runs the worker pool, the scheduler, the metrics endpoint and, with
// the Kafka transport, the change event consumer until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	c := cron.New(cron.WithLocation(a.cfg.Location()))
	if err := a.Schedule(ctx, c); err != nil {
		return err
	}

	var wg sync.WaitGroup
	a.Worker.Start(ctx)
	c.Start()

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Relay.Run(ctx, a.cfg.Events.RelayInterval)
	}()
	go func() {
		defer wg.Done()
		a.reportQueue(ctx, a.cfg.Queue.PollInterval*15)
	}()
	a.log.Info("scheduler started", "import", a.cfg.Schedule.Import, "daily_plans", a.cfg.Schedule.DailyPlans, "timezone", a.cfg.Location().String())

	if a.cfg.Events.Transport == "kafka" {
		reader := events.NewKafkaReader(a.cfg.Events.Brokers, a.cfg.Events.Topic, a.cfg.Events.GroupID)
		proc := events.NewProcessor(reader, a.Dispatcher, a.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			a.log.Info("event consumer started", "topic", a.cfg.Events.Topic, "group", a.cfg.Events.GroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("event consumer stopped", "error", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.log.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	a.log.Info("shutdown requested")

	stopped := c.Stop()
	<-stopped.Done()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("metrics server shutdown error", "error", err)
		}
	}
	wg.Wait()
	return nil
}

// reportQueue publishes the job counts per status every interval.
func (a *Application) reportQueue(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.recordQueueDepth(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("counting jobs failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Application) recordQueueDepth(ctx context.Context) error {
	counts, err := a.Store.CountJobsByStatus(ctx)
	if err != nil {
		return err
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	observability.SetQueueDepth(byStatus)
	return nil
}

// Drain delivers pending change events and runs queued jobs on the calling
// goroutine until none are runnable. Jobs rescheduled for a later retry are
// left for the next Serve.
func (a *Application) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.Relay.Flush(ctx); err != nil {
			a.log.Warn("delivering pending activity changes failed", "error", err)
		}
		ran, err := a.Worker.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}
