// Server binary: serves the read API and admin endpoints, runs the cron
// scheduler that feeds the queues, and monitors queue health. Job execution
// itself lives in the worker binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/cache"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/httpserver"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	asynqadp "github.com/fairyhunter13/air-quality-monitor/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/air-quality-monitor/internal/app"
	"github.com/fairyhunter13/air-quality-monitor/internal/config"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/alerts"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/breaker"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/health"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/scheduler"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/storage"
	"github.com/fairyhunter13/air-quality-monitor/internal/usecase"
	"github.com/oklog/ulid/v2"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=main.tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("op=main.postgres: %w", err)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	ropt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("op=main.redis: %w", err)
	}
	rdb := redis.NewClient(ropt)
	defer rdb.Close()

	readings := postgres.NewReadingRepo(pool)
	aggs := postgres.NewAggregationRepo(pool)
	alertRepo := postgres.NewAlertRepo(pool)
	cacheAdp := cache.New(rdb)

	dedupe := asynqadp.NewDedupeGuard()
	go dedupe.Run(ctx, time.Minute)
	queue, err := asynqadp.New(cfg.RedisURL, dedupe, cfg.DedupeTTL, cfg.QueueRetention)
	if err != nil {
		return err
	}
	defer queue.Close()

	inspector, err := asynqadp.NewInspector(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer inspector.Close()

	engine := alerts.NewEngine(alertRepo, queue, alerts.Thresholds{
		ConsecutiveAPIFailures: cfg.ConsecutiveAPIFailures,
		HighPollutionAQI:       cfg.HighPollutionAQI,
		ExtremePollutionAQI:    cfg.ExtremePollutionAQI,
		QueueBacklogSize:       cfg.QueueBacklogSize,
		SystemErrorRate:        cfg.SystemErrorRate,
		StorageUsage:           cfg.StorageUsageThreshold,
	}, cfg.AlertRecipients, cfg.EscalationRecipients)

	// Server-side monitor scores queues from broker stats alone; execution
	// timing signals live in the worker process.
	monitor := health.NewMonitor(inspector, nil, cacheAdp, cfg.HealthInterval)
	go monitor.Run(ctx)

	tz, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return err
	}
	router := storage.NewRouter(readings)
	query := usecase.NewQuery(router, aggs, cacheAdp)
	aggregator := usecase.NewAggregator(readings, aggs, cacheAdp, tz)

	sched := scheduler.New()
	if err := registerJobs(sched, cfg, queue, engine, monitor, inspector, cacheAdp, tz); err != nil {
		return err
	}
	sched.Start()

	srv := (&httpserver.Server{
		Cfg:       cfg,
		Query:     query,
		Aggs:      aggregator,
		Alerts:    engine,
		AlertRepo: alertRepo,
		Monitor:   monitor,
		Scheduler: sched,
		Ready:     app.Readiness{Pool: pool, Redis: rdb},
	}).New()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	<-sched.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown failed", slog.Any("error", err))
	}
	slog.Info("server stopped")
	return nil
}

// healthGate refuses ticks while the queue scores below the configured floor.
func healthGate(monitor *health.Monitor, queue string, floor float64) scheduler.Gate {
	return func() (bool, string) {
		if s := monitor.Score(queue); s < floor {
			return false, fmt.Sprintf("skipped: queue-health %.2f below %.2f", s, floor)
		}
		return true, ""
	}
}

// registerJobs wires the recurring schedule. Bodies only enqueue; the worker
// binary does the heavy lifting.
func registerJobs(sched *scheduler.Scheduler, cfg config.Config, queue domain.Queue,
	engine *alerts.Engine, monitor *health.Monitor, inspector domain.QueueInspector,
	cacheAdp domain.Cache, tz *time.Location) error {

	corr := func() string { return ulid.Make().String() }

	if err := sched.Register(scheduler.JobFetchParis, scheduler.SpecFetchParis, func(ctx context.Context) error {
		_, err := queue.Enqueue(ctx, domain.FetchPayload{
			Location: cfg.Location(), City: cfg.City, State: cfg.State, Country: cfg.Country,
			CorrelationID: corr(),
		}, domain.EnqueueOptions{
			Queue:       domain.QueueAirQuality,
			Priority:    domain.PriorityHigh,
			MaxAttempts: cfg.QueueMaxAttempts,
			Timeout:     cfg.HandlerTimeout,
			DedupeKey:   scheduler.BucketKey(scheduler.JobFetchParis, time.Now(), time.Minute),
		})
		if errors.Is(err, domain.ErrDedupeSuppressed) {
			return nil
		}
		return err
	},
		healthGate(monitor, domain.QueueAirQuality, cfg.HealthGateScore),
		breaker.CachedGate(cacheAdp, "iqair"),
	); err != nil {
		return err
	}

	if err := sched.Register(scheduler.JobHourlyAggs, scheduler.SpecHourlyAggs, func(ctx context.Context) error {
		now := time.Now().In(tz)
		_, err := queue.Enqueue(ctx, domain.AggregateDailyPayload{
			Location: cfg.Location(), Date: now.Format("2006-01-02"), Partial: true,
			CorrelationID: corr(),
		}, domain.EnqueueOptions{
			Queue:       domain.QueueAggregation,
			Priority:    domain.PriorityNormal,
			MaxAttempts: 3,
			DedupeKey:   scheduler.BucketKey(scheduler.JobHourlyAggs, now, time.Hour),
		})
		if errors.Is(err, domain.ErrDedupeSuppressed) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.JobFinalizeDaily, scheduler.SpecFinalizeDaily, func(ctx context.Context) error {
		now := time.Now().In(tz)
		_, err := queue.Enqueue(ctx, domain.AggregateDailyPayload{
			Location: cfg.Location(), Date: now.Format("2006-01-02"), Partial: false,
			CorrelationID: corr(),
		}, domain.EnqueueOptions{
			Queue:       domain.QueueAggregation,
			Priority:    domain.PriorityHigh,
			MaxAttempts: 5,
			DedupeKey:   scheduler.BucketKey(scheduler.JobFinalizeDaily, now, 24*time.Hour),
		})
		if errors.Is(err, domain.ErrDedupeSuppressed) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.JobWeeklyCleanup, scheduler.SpecWeeklyCleanup, func(ctx context.Context) error {
		_, err := queue.Enqueue(ctx, domain.CleanupPayload{
			OlderThanDays: cfg.AlertRetentionDays, CorrelationID: corr(),
		}, domain.EnqueueOptions{Queue: domain.QueueMaintenance, Priority: domain.PriorityLow, MaxAttempts: 3})
		return err
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.JobHealthCheck, scheduler.SpecHealthCheck, func(ctx context.Context) error {
		snaps, err := monitor.Check(ctx)
		if err != nil {
			return err
		}
		id := corr()
		for _, snap := range snaps {
			st, err := inspector.Stats(ctx, snap.Queue)
			if err != nil {
				continue
			}
			engine.ObserveQueueStats(ctx, st, id)
			engine.ObserveErrorRate(ctx, snap.FailureRate, id)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.JobMigrateHotWarm, scheduler.SpecMigrateHotWarm, func(ctx context.Context) error {
		_, err := queue.Enqueue(ctx, domain.MigratePayload{
			From: domain.TierHot, To: domain.TierWarm,
			Cutoff: time.Now().Add(-domain.HotMaxAge), BatchSize: cfg.MigrationBatchSize,
			CorrelationID: corr(),
		}, domain.EnqueueOptions{Queue: domain.QueueMaintenance, Priority: domain.PriorityLow, MaxAttempts: 3})
		return err
	}); err != nil {
		return err
	}

	return sched.Register(scheduler.JobMigrateWarmCold, scheduler.SpecMigrateWarmCold, func(ctx context.Context) error {
		_, err := queue.Enqueue(ctx, domain.MigratePayload{
			From: domain.TierWarm, To: domain.TierCold,
			Cutoff: time.Now().Add(-domain.WarmMaxAge), BatchSize: cfg.MigrationBatchSize,
			CorrelationID: corr(),
		}, domain.EnqueueOptions{Queue: domain.QueueMaintenance, Priority: domain.PriorityLow, MaxAttempts: 3})
		return err
	})
}
