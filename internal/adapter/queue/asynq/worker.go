package asynqadp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// HandlerFunc processes one claimed job. The raw bytes are the payload the
// producer marshalled; handlers decode their own variant.
type HandlerFunc func(ctx context.Context, raw []byte) error

// FinalFailureHook fires once when a job exhausts its attempts. The alert
// engine uses it to record a system_error alert.
type FinalFailureHook func(kind domain.JobKind, raw []byte, err error)

// WorkerConfig tunes the consumer side of the broker.
type WorkerConfig struct {
	Concurrency    int
	DrainTimeout   time.Duration
	DefaultTimeout time.Duration
	BackoffType    string // exponential | fixed
	BackoffDelay   time.Duration
}

// Worker drains the queues and dispatches on the job kind tag.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	stats   *StatsRegistry
	cfg     WorkerConfig
	onFinal FinalFailureHook
}

// NewWorker builds the consumer. Handlers are registered with Handle before
// Start; the final-failure hook may be nil.
func NewWorker(redisURL string, cfg WorkerConfig, stats *StatsRegistry, onFinal FinalFailureHook) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = 30 * time.Second
	}

	w := &Worker{stats: stats, cfg: cfg, onFinal: onFinal}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          QueueWeights,
		ShutdownTimeout: cfg.DrainTimeout,
		RetryDelayFunc:  w.retryDelay,
		ErrorHandler:    asynq.ErrorHandlerFunc(w.handleError),
		Logger:          slogAdapter{},
	})
	w.server = srv
	w.mux = asynq.NewServeMux()
	return w, nil
}

// Handle registers the handler for a job kind. Each execution runs under the
// kind's timeout (falling back to the worker default) and is folded into the
// per-kind stats.
func (w *Worker) Handle(kind domain.JobKind, timeout time.Duration, fn HandlerFunc) {
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	w.mux.HandleFunc(taskType(kind), func(ctx context.Context, t *asynq.Task) error {
		tracer := otel.Tracer("queue.worker")
		ctx, span := tracer.Start(ctx, "Job."+string(kind))
		defer span.End()

		hctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		hctx = context.WithValue(hctx, progressKey{}, t.ResultWriter())

		start := time.Now()
		observability.StartJob(string(kind))
		err := fn(hctx, t.Payload())
		dur := time.Since(start)
		if w.stats != nil {
			w.stats.Record(kind, dur, err == nil)
		}
		if err != nil {
			observability.FailJob(string(kind), dur)
			span.RecordError(err)
			return err
		}
		observability.CompleteJob(string(kind), dur)
		return nil
	})
}

type progressKey struct{}

// Progress reports handler progress as a percentage on the task's broker-side
// result, where the Inspector can read it while the job runs. A no-op outside
// a handler context.
func Progress(ctx context.Context, pct int) {
	rw, ok := ctx.Value(progressKey{}).(*asynq.ResultWriter)
	if !ok || rw == nil {
		return
	}
	b, err := json.Marshal(map[string]any{"progress": pct, "at": time.Now().UTC()})
	if err != nil {
		return
	}
	if _, err := rw.Write(b); err != nil {
		slog.Debug("progress write failed", slog.Any("error", err))
	}
}

// Start begins claiming jobs. Non-blocking; Stop drains in-flight handlers up
// to the configured drain timeout.
func (w *Worker) Start() error { return w.server.Start(w.mux) }

// Stop signals shutdown and waits for in-flight handlers.
func (w *Worker) Stop() { w.server.Shutdown() }

// retryDelay implements the queue's default backoff policy.
func (w *Worker) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if w.cfg.BackoffType == "fixed" {
		return w.cfg.BackoffDelay
	}
	d := w.cfg.BackoffDelay << uint(n)
	if max := 30 * time.Minute; d > max || d <= 0 {
		d = max
	}
	return d
}

// handleError fires on every failed execution; the final-failure hook runs
// only when no retries remain.
func (w *Worker) handleError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	kind := kindForTask(t.Type())
	slog.Error("job execution failed",
		slog.String("kind", string(kind)),
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err))
	if retried >= maxRetry && w.onFinal != nil {
		w.onFinal(kind, t.Payload(), err)
	}
}

func kindForTask(taskType string) domain.JobKind {
	switch taskType {
	case TaskFetch:
		return domain.JobFetch
	case TaskAggregateDaily:
		return domain.JobAggregateDaily
	case TaskSendAlert:
		return domain.JobSendAlert
	case TaskMigrate:
		return domain.JobMigrate
	case TaskCleanup:
		return domain.JobCleanup
	default:
		return domain.JobKind(taskType)
	}
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug("asynq", slog.Any("args", args)) }
func (slogAdapter) Info(args ...any)  { slog.Info("asynq", slog.Any("args", args)) }
func (slogAdapter) Warn(args ...any)  { slog.Warn("asynq", slog.Any("args", args)) }
func (slogAdapter) Error(args ...any) { slog.Error("asynq", slog.Any("args", args)) }
func (slogAdapter) Fatal(args ...any) { slog.Error("asynq fatal", slog.Any("args", args)) }
