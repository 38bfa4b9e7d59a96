// Package httpserver exposes the read API, admin operations and the
// operational endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/app"
	"github.com/fairyhunter13/air-quality-monitor/internal/config"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/alerts"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/health"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/scheduler"
	"github.com/fairyhunter13/air-quality-monitor/internal/usecase"
)

// Server bundles the handlers' dependencies.
type Server struct {
	Cfg       config.Config
	Query     *usecase.Query
	Aggs      *usecase.Aggregator
	Alerts    *alerts.Engine
	AlertRepo domain.AlertRepository
	Monitor   *health.Monitor
	Scheduler *scheduler.Scheduler
	Ready     app.Readiness
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.Cfg.CORSAllowOrigins},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.Cfg.RateLimitPerMin, time.Minute))

		r.Get("/readings/latest", s.handleLatest)
		r.Get("/readings", s.handleRange)
		r.Get("/stats/daily", s.handleDailyStats)
		r.Get("/stats/weekly", s.handleWeeklySummary)
		r.Get("/alerts", s.handleActiveAlerts)
		r.Get("/queues/health", s.handleQueueHealth)
		r.Get("/scheduler/jobs", s.handleSchedulerStats)

		r.Post("/alerts/{id}/ack", s.handleAcknowledge)
		r.Post("/scheduler/jobs/{name}/toggle", s.handleToggleJob)
		r.Post("/scheduler/jobs/{name}/run", s.handleRunJob)
	})
	return r
}

// New builds the http.Server around the router.
func (s *Server) New() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.Cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.Cfg.HTTPReadTimeout,
		WriteTimeout: s.Cfg.HTTPWriteTimeout,
		IdleTimeout:  s.Cfg.HTTPIdleTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.Any("error", err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrAlertThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		location = s.Cfg.Location()
	}
	rd, err := s.Query.Latest(r.Context(), location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq := domain.RangeQuery{Location: q.Get("location")}
	if rq.Location == "" {
		rq.Location = s.Cfg.Location()
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, fmt.Errorf("bad start: %w", domain.ErrInvalidArgument))
			return
		}
		rq.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, fmt.Errorf("bad end: %w", domain.ErrInvalidArgument))
			return
		}
		rq.End = t
	}
	if v := q.Get("minAqi"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("bad minAqi: %w", domain.ErrInvalidArgument))
			return
		}
		rq.MinAQI = n
	}
	rq.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, fmt.Errorf("bad limit: %w", domain.ErrInvalidArgument))
			return
		}
		rq.Limit = n
	}

	res, err := s.Query.Range(r.Context(), rq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	if location == "" {
		location = s.Cfg.Location()
	}
	date := q.Get("date")
	if date == "" {
		writeError(w, fmt.Errorf("date required: %w", domain.ErrInvalidArgument))
		return
	}
	agg, err := s.Query.DailyStats(r.Context(), location, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleWeeklySummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	if location == "" {
		location = s.Cfg.Location()
	}
	end := q.Get("end")
	if end == "" {
		end = time.Now().Format("2006-01-02")
	}
	sum, err := s.Aggs.WeeklySummary(r.Context(), location, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := s.AlertRepo.ListActive(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Snapshots())
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Scheduler.Stats())
}

type ackRequest struct {
	User string `json:"user"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body ackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.User == "" {
		writeError(w, fmt.Errorf("user required: %w", domain.ErrInvalidArgument))
		return
	}
	if err := s.Alerts.Acknowledge(r.Context(), id, body.User); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("bad body: %w", domain.ErrInvalidArgument))
		return
	}
	if err := s.Scheduler.Toggle(name, body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": name, "enabled": body.Enabled})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.Scheduler.ExecuteManually(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "executed"})
}
