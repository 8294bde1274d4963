// Package app wires configuration, storage, the job queue and the coaching
// services into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"

	"lararun/internal/auth"
	"lararun/internal/coach"
	"lararun/internal/config"
	"lararun/internal/events"
	"lararun/internal/lease"
	"lararun/internal/llm"
	"lararun/internal/logger"
	"lararun/internal/notify"
	"lararun/internal/queue"
	"lararun/internal/service"
	"lararun/internal/store"
	"lararun/internal/strava"
)

// Deps overrides collaborators that New would otherwise build from config.
type Deps struct {
	Store     *store.Store
	Generator llm.Generator
	Clients   service.ClientFactory
	Sender    notify.Sender
	Locker    lease.Locker
	Clock     *coach.Clock
}

// Application holds the wired services.
type Application struct {
	cfg   *config.Config
	log   *logger.Logger
	clock coach.Clock

	Store        *store.Store
	Queue        *queue.Queue
	Registry     *queue.Registry
	Worker       *queue.Worker
	Relay        *events.Relay
	Writer       *service.ActivityWriter
	Importer     *service.Importer
	Metrics      *service.MetricsEngine
	Records      *service.RecordDetector
	Dispatcher   *service.Dispatcher
	Orchestrator *coach.Orchestrator
	Enricher     *coach.Enricher
	Notifier     *notify.Dispatcher

	bus       *events.LocalBus
	publisher events.Publisher
	closers   []func() error
}

// New builds the application from cfg, using deps where they are set.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, deps Deps) (*Application, error) {
	a := &Application{cfg: cfg, log: log}
	if err := a.build(ctx, deps); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, deps Deps) error {
	cfg := a.cfg

	a.Store = deps.Store
	if a.Store == nil {
		s, err := store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	}
	a.Queue = queue.New(a.Store)

	locker, err := a.locker(ctx, deps.Locker)
	if err != nil {
		return err
	}

	// Change events feed the dispatcher. The local bus calls it directly;
	// with Kafka the dispatcher runs behind the processor started by Serve.
	a.Dispatcher = service.NewDispatcher(a.Store, a.Queue, a.log)
	switch cfg.Events.Transport {
	case "kafka":
		p := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		a.publisher = p
		a.closers = append(a.closers, p.Close)
	default:
		a.bus = events.NewLocalBus()
		a.bus.Subscribe(a.Dispatcher)
		a.publisher = a.bus
	}
	a.Relay = events.NewRelay(a.Store, a.publisher, a.log)
	a.Writer = service.NewActivityWriter(a.Store, a.Relay, a.log)

	clients := deps.Clients
	if clients == nil {
		oauthCfg := auth.NewOAuthConfig(auth.Config{
			ClientID:     cfg.Strava.ClientID,
			ClientSecret: cfg.Strava.ClientSecret,
		})
		// one limiter for every user, the quota is per application
		limiter := strava.NewRateLimiter(strava.WithMinInterval(cfg.Strava.MinRequestInterval))
		clients = service.NewStravaClientFactory(oauthCfg, a.Store,
			strava.WithBaseURL(cfg.Strava.APIURL), strava.WithRateLimiter(limiter))
	}
	a.Importer = service.NewImporter(a.Store, a.Writer, clients, cfg.Strava.ImportLimit, a.log)
	a.Metrics = service.NewMetricsEngine(a.Store, a.log)
	a.Records = service.NewRecordDetector(a.Store, a.log)

	gen := deps.Generator
	if gen == nil {
		client, err := llm.NewClient(a.log, llm.Config{
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("creating llm client: %w", err)
		}
		gen = client
	}

	sender, err := a.sender(deps.Sender)
	if err != nil {
		return err
	}
	a.Notifier = notify.NewDispatcher(sender, a.log, 0)
	a.Notifier.Start(ctx)
	a.closers = append(a.closers, func() error {
		a.Notifier.Close()
		return nil
	})

	a.clock = coach.SystemClock(cfg.Location())
	if deps.Clock != nil {
		a.clock = *deps.Clock
	}
	builder := coach.NewContextBuilder(a.Store, a.Metrics, a.clock)
	a.Orchestrator = coach.NewOrchestrator(a.Store, builder, gen, locker, a.Notifier, cfg.Lease.TTL, a.clock, a.log)
	a.Enricher = coach.NewEnricher(a.Store, a.Writer, gen, locker, a.Notifier, cfg.Lease.TTL, a.clock, a.log)

	a.Registry = queue.NewRegistry()
	if err := a.registerJobs(); err != nil {
		return err
	}
	a.Worker = queue.NewWorker(a.Store, a.Registry, a.log, queue.Options{
		Concurrency:  cfg.Queue.Workers,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryDelay:   cfg.Queue.RetryDelay,
		PollInterval: cfg.Queue.PollInterval,
		StaleAfter:   cfg.Queue.StaleAfter,
	})
	return nil
}

func (a *Application) locker(ctx context.Context, override lease.Locker) (lease.Locker, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.Lease.Backend == "redis" {
		l, err := lease.NewRedisLocker(ctx, a.cfg.Lease.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, l.Close)
		return l, nil
	}
	return lease.NewSQLLocker(a.Store), nil
}

func (a *Application) sender(override notify.Sender) (notify.Sender, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.Notify.Backend == "telegram" {
		s, err := notify.NewTelegramSender(a.cfg.Notify.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("creating telegram sender: %w", err)
		}
		return s, nil
	}
	return notify.NewLogSender(a.log), nil
}

// Close releases resources in reverse order of acquisition.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
