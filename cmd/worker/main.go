// Worker binary: drains the queues. Hosts the circuit-broken upstream
// client, the aggregation pipeline, tier migration, cleanup and alert
// delivery, plus a metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/cache"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/mailer"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	asynqadp "github.com/fairyhunter13/air-quality-monitor/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/upstream/iqair"
	"github.com/fairyhunter13/air-quality-monitor/internal/app"
	"github.com/fairyhunter13/air-quality-monitor/internal/config"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/alerts"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/breaker"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/health"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/ratelimiter"
	"github.com/fairyhunter13/air-quality-monitor/internal/usecase"
	"github.com/oklog/ulid/v2"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
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

	br := breaker.New("iqair", cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout, cfg.BreakerMonitoringWindow)
	// The scheduler lives in the server process; it gates fetch ticks on the
	// published snapshot.
	go br.PublishLoop(ctx, cacheAdp, cfg.HealthInterval)
	upstream := iqair.New(cfg.IQAirBaseURL, cfg.IQAirAPIKey, iqair.Options{
		AttemptTimeout: cfg.FetchTimeout,
		MaxRetries:     cfg.FetchMaxRetries,
		BaseDelay:      cfg.FetchBaseDelay,
		MaxDelay:       cfg.FetchMaxDelay,
	}, br)

	limiter := ratelimiter.New(rdb, cfg.EmailMaxPerHour, cfg.EmailMaxPerDay)
	mail := mailer.NewLimited(mailer.LogMailer{}, limiter, cfg.EmailRetryAttempts, cfg.EmailRetryDelay)

	tz, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return err
	}
	fetcher := usecase.NewFetcher(upstream, readings, cacheAdp, queue, engine, tz)
	aggregator := usecase.NewAggregator(readings, aggs, cacheAdp, tz)
	migrator := postgres.NewMigrator(readings, cfg.MigrationBatchSize)
	cleaner := &postgres.Cleaner{
		Alerts:         alertRepo,
		Readings:       readings,
		AlertRetention: time.Duration(cfg.AlertRetentionDays) * 24 * time.Hour,
	}

	stats := asynqadp.NewStatsRegistry()

	// Final failures fold into the rolling error rate alert.
	onFinal := func(kind domain.JobKind, _ []byte, _ error) {
		snap := stats.Snapshot()
		var processed, failed int64
		for _, s := range snap {
			processed += s.Processed
			failed += s.Failed
		}
		if processed == 0 {
			return
		}
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine.ObserveErrorRate(hctx, float64(failed)/float64(processed), ulid.Make().String())
	}

	worker, err := asynqadp.NewWorker(cfg.RedisURL, asynqadp.WorkerConfig{
		Concurrency:    cfg.WorkerConcurrency,
		DrainTimeout:   cfg.WorkerDrainTimeout,
		DefaultTimeout: cfg.HandlerTimeout,
		BackoffType:    cfg.QueueBackoffType,
		BackoffDelay:   cfg.QueueBackoffDelay,
	}, stats, onFinal)
	if err != nil {
		return err
	}

	worker.Handle(domain.JobFetch, cfg.HandlerTimeout, func(ctx context.Context, raw []byte) error {
		var p domain.FetchPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("op=handler.fetch: %w", err)
		}
		return fetcher.Execute(ctx, p)
	})
	worker.Handle(domain.JobAggregateDaily, cfg.HandlerTimeout, func(ctx context.Context, raw []byte) error {
		var p domain.AggregateDailyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("op=handler.aggregate: %w", err)
		}
		return aggregator.Execute(ctx, p)
	})
	worker.Handle(domain.JobSendAlert, time.Minute, func(ctx context.Context, raw []byte) error {
		var p domain.SendAlertPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("op=handler.send_alert: %w", err)
		}
		err := engine.Deliver(ctx, p.AlertID, mail)
		if errors.Is(err, domain.ErrRateLimited) {
			// Budget exhausted; retrying later cannot help inside this hour.
			slog.Warn("alert delivery dropped, budget exhausted", slog.String("alert_id", p.AlertID))
			return nil
		}
		return err
	})
	worker.Handle(domain.JobMigrate, 10*time.Minute, func(ctx context.Context, raw []byte) error {
		var p domain.MigratePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("op=handler.migrate: %w", err)
		}
		if p.BatchSize > 0 {
			migrator.BatchSize = p.BatchSize
		}
		_, err := migrator.Migrate(ctx, p.From, p.To, p.Cutoff)
		return err
	})
	worker.Handle(domain.JobCleanup, 10*time.Minute, func(ctx context.Context, raw []byte) error {
		var p domain.CleanupPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("op=handler.cleanup: %w", err)
		}
		if p.OlderThanDays > 0 {
			cleaner.AlertRetention = time.Duration(p.OlderThanDays) * 24 * time.Hour
		}
		if _, err := cleaner.Run(ctx, time.Now()); err != nil {
			return err
		}
		asynqadp.Progress(ctx, 50)
		for _, q := range []string{domain.QueueCritical, domain.QueueAirQuality, domain.QueueAggregation, domain.QueueAlerts, domain.QueueMaintenance} {
			n, err := inspector.PruneTerminal(q)
			if err != nil {
				slog.Warn("broker prune failed", slog.String("queue", q), slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("broker tasks pruned", slog.String("queue", q), slog.Int("tasks", n))
			}
		}
		asynqadp.Progress(ctx, 100)
		return nil
	})

	monitor := health.NewMonitor(inspector, stats, cacheAdp, cfg.HealthInterval)
	go monitor.Run(ctx)

	if err := worker.Start(); err != nil {
		return fmt.Errorf("op=main.worker: %w", err)
	}
	slog.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))

	// Metrics and liveness for the worker process.
	ready := app.Readiness{Pool: pool, Redis: rdb}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready.Check(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port+1), Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown failed", slog.Any("error", err))
	}
	slog.Info("worker stopped")
	return nil
}
