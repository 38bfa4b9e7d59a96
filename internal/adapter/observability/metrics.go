package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Total upstream fetch attempts by outcome",
		},
		[]string{"outcome"},
	)
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds, terminal outcomes only",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_deduped_total",
			Help: "Total number of enqueues suppressed by dedupe keys",
		},
		[]string{"kind"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		},
		[]string{"kind"},
	)

	ReadingsMigratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_migrated_total",
			Help: "Readings moved between tiers",
		},
		[]string{"from", "to"},
	)
	MigrationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_errors_total",
			Help: "Per-record migration failures",
		},
		[]string{"from", "to"},
	)

	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Alerts created by condition id",
		},
		[]string{"condition", "severity"},
	)
	AlertsThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_throttled_total",
			Help: "Alert triggers suppressed by the throttle window",
		},
		[]string{"condition"},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	QueueHealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_health_score",
			Help: "Computed per-queue health score [0,1]",
		},
		[]string{"queue"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(FetchAttemptsTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsDedupedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(ReadingsMigratedTotal)
	prometheus.MustRegister(MigrationErrorsTotal)
	prometheus.MustRegister(AlertsTriggeredTotal)
	prometheus.MustRegister(AlertsThrottledTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(QueueHealthScore)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(kind string) { JobsEnqueuedTotal.WithLabelValues(kind).Inc() }
func DedupeJob(kind string)  { JobsDedupedTotal.WithLabelValues(kind).Inc() }
func StartJob(kind string)   { JobsProcessing.WithLabelValues(kind).Inc() }

func CompleteJob(kind string, dur time.Duration) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

func FailJob(kind string, dur time.Duration) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

// ObserveFetch records one terminal fetch outcome.
func ObserveFetch(outcome string, dur time.Duration) {
	FetchAttemptsTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(dur.Seconds())
}

// SetBreakerState publishes the numeric breaker state for dashboards.
func SetBreakerState(state int) { BreakerState.Set(float64(state)) }
