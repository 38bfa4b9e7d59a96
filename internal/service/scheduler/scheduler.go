// Package scheduler fires the recurring pipeline jobs on time-zone-aware cron
// expressions. Each tick enqueues work onto the broker; nothing heavy runs
// inline on the cron goroutine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron expressions for the core schedule. Time zones ride along via the
// CRON_TZ prefix understood by robfig/cron.
const (
	SpecFetchParis      = "CRON_TZ=Europe/Paris * * * * *"
	SpecHourlyAggs      = "0 * * * *"
	SpecFinalizeDaily   = "59 23 * * *"
	SpecWeeklyCleanup   = "0 2 * * 0"
	SpecHealthCheck     = "*/5 * * * *"
	SpecMigrateHotWarm  = "0 2 * * *"
	SpecMigrateWarmCold = "0 3 1 * *"
)

// Named jobs.
const (
	JobFetchParis      = "fetch-paris-data"
	JobHourlyAggs      = "hourly-aggregations"
	JobFinalizeDaily   = "finalize-daily-stats"
	JobWeeklyCleanup   = "weekly-cleanup"
	JobHealthCheck     = "health-check"
	JobMigrateHotWarm  = "migrate-hot-warm"
	JobMigrateWarmCold = "migrate-warm-cold"
)

// Gate decides whether a tick may run. A refused tick is recorded with the
// returned reason (e.g. "skipped: breaker-open") and does not count as a
// failure.
type Gate func() (allow bool, reason string)

// JobFunc is the body a tick executes. It should enqueue, not do the work.
type JobFunc func(ctx context.Context) error

// ExecStats is the per-job execution record.
type ExecStats struct {
	Name            string        `json:"name"`
	LastExecution   time.Time     `json:"last_execution,omitzero"`
	NextExecution   time.Time     `json:"next_execution,omitzero"`
	ExecutionCount  int64         `json:"execution_count"`
	FailureCount    int64         `json:"failure_count"`
	SkippedCount    int64         `json:"skipped_count"`
	LastDuration    time.Duration `json:"last_duration_ms"`
	LastError       string        `json:"last_error,omitempty"`
	LastSkipReason  string        `json:"last_skip_reason,omitempty"`
	IsEnabled       bool          `json:"is_enabled"`
}

type job struct {
	name    string
	spec    string
	body    JobFunc
	gates   []Gate
	entryID cron.EntryID
	enabled bool
	stats   ExecStats
}

// Scheduler owns the cron runner and the per-job registry.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

// New constructs an empty scheduler. Register jobs before Start. Specs
// without a CRON_TZ prefix evaluate in UTC, not process-local time.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		jobs: make(map[string]*job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a named cron job. Gates run in order on every tick and on
// manual execution; the first refusal wins.
func (s *Scheduler) Register(name, spec string, body JobFunc, gates ...Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("op=scheduler.register: job %q already registered", name)
	}
	j := &job{name: name, spec: spec, body: body, gates: gates, enabled: true}
	id, err := s.cron.AddFunc(spec, func() { s.tick(name) })
	if err != nil {
		return fmt.Errorf("op=scheduler.register job=%s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	return nil
}

// Start launches the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits for any in-flight tick bodies.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// tick runs one scheduled firing. At most one enqueue results per tick; the
// dedupe key inside the body guards against overlap with manual runs.
func (s *Scheduler) tick(name string) {
	// Ticks get a bounded context; bodies only enqueue.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = s.execute(ctx, name)
}

// ExecuteManually runs the job body synchronously, bypassing the schedule but
// not the gates.
func (s *Scheduler) ExecuteManually(ctx context.Context, name string) error {
	s.mu.Lock()
	if _, ok := s.jobs[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("op=scheduler.execute: job %q not registered", name)
	}
	s.mu.Unlock()
	return s.execute(ctx, name)
}

func (s *Scheduler) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok || !j.enabled {
		s.mu.Unlock()
		return nil
	}
	gates := j.gates
	body := j.body
	s.mu.Unlock()

	for _, g := range gates {
		if allow, reason := g(); !allow {
			s.mu.Lock()
			j.stats.SkippedCount++
			j.stats.LastSkipReason = reason
			s.mu.Unlock()
			slog.Info("scheduled job skipped", slog.String("job", name), slog.String("reason", reason))
			return nil
		}
	}

	start := s.now()
	err := body(ctx)
	dur := time.Since(start)

	s.mu.Lock()
	j.stats.LastExecution = start
	j.stats.LastDuration = dur
	j.stats.ExecutionCount++
	if err != nil {
		j.stats.FailureCount++
		j.stats.LastError = err.Error()
	} else {
		j.stats.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("scheduled job failed", slog.String("job", name), slog.Any("error", err))
		return err
	}
	slog.Debug("scheduled job ran", slog.String("job", name), slog.Duration("duration", dur))
	return nil
}

// Toggle enables or disables a job live.
func (s *Scheduler) Toggle(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("op=scheduler.toggle: job %q not registered", name)
	}
	j.enabled = enabled
	slog.Info("scheduled job toggled", slog.String("job", name), slog.Bool("enabled", enabled))
	return nil
}

// Stats returns the execution record of every registered job.
func (s *Scheduler) Stats() []ExecStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.stats
		st.Name = j.name
		st.IsEnabled = j.enabled
		st.NextExecution = s.cron.Entry(j.entryID).Next
		out = append(out, st)
	}
	return out
}

// BucketKey derives the dedupe key for a job firing inside a period bucket:
// two enqueues inside the same bucket collapse to one job.
func BucketKey(name string, now time.Time, period time.Duration) string {
	if period <= 0 {
		period = time.Minute
	}
	return fmt.Sprintf("%s-%d", name, now.Unix()/int64(period.Seconds()))
}
