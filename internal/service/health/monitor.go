// Package health scores queue health from broker statistics and classifies
// bottlenecks so schedulers and operators can react before a backlog grows
// into an incident.
package health

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Bottleneck names a detected pressure point with its severity.
type Bottleneck struct {
	Kind     string          `json:"kind"` // backlog, failures, slow_processing
	Severity domain.Severity `json:"severity"`
	Detail   string          `json:"detail"`
}

// Snapshot is one scored observation of a queue.
type Snapshot struct {
	Queue          string            `json:"queue"`
	Score          float64           `json:"score"`
	Waiting        int64             `json:"waiting"`
	Active         int64             `json:"active"`
	FailureRate    float64           `json:"failureRate"`
	AvgProcessing  time.Duration     `json:"avgProcessingMs"`
	ThroughputPM   float64           `json:"throughputPerMinute"`
	Bottlenecks    []Bottleneck      `json:"bottlenecks,omitempty"`
	Trend          domain.TrendLabel `json:"trend"`
	ObservedAt     time.Time         `json:"observedAt"`
	totalProcessed int64
}

// JobStatsSource reports per-kind execution stats; satisfied by the worker's
// stats registry.
type JobStatsSource interface {
	Snapshot() map[domain.JobKind]domain.JobStats
}

// Monitor polls the queue inspector on an interval, scores each queue and
// publishes the snapshots to metrics and the cache for the read API.
type Monitor struct {
	Inspector domain.QueueInspector
	Stats     JobStatsSource
	Cache     domain.Cache

	Interval time.Duration

	mu   sync.RWMutex
	last map[string]Snapshot
	now  func() time.Time
}

// NewMonitor constructs a Monitor.
func NewMonitor(insp domain.QueueInspector, stats JobStatsSource, cache domain.Cache, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		Inspector: insp,
		Stats:     stats,
		Cache:     cache,
		Interval:  interval,
		last:      make(map[string]Snapshot),
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// score applies the deduction model. Every queue starts perfect and loses
// points for failures, slowness, backlog and starvation.
func score(failureRate float64, avgProc time.Duration, waiting int64, throughputPM float64) float64 {
	s := 1.0
	if failureRate > 0.05 {
		s -= 0.5 * failureRate
	}
	if avgProc > 10*time.Second {
		s -= 0.2
	}
	if waiting > 50 {
		d := float64(waiting) / 1000
		if d > 0.3 {
			d = 0.3
		}
		s -= d
	}
	if throughputPM < 5 {
		s -= 0.2
	}
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

func classify(waiting int64, failureRate float64, avgProc time.Duration) []Bottleneck {
	var out []Bottleneck
	if waiting > 100 {
		sev := domain.SeverityMedium
		switch {
		case waiting > 500:
			sev = domain.SeverityCritical
		case waiting > 200:
			sev = domain.SeverityHigh
		}
		out = append(out, Bottleneck{Kind: "backlog", Severity: sev,
			Detail: "waiting jobs exceed backlog threshold"})
	}
	if failureRate > 0.10 {
		sev := domain.SeverityMedium
		switch {
		case failureRate > 0.25:
			sev = domain.SeverityCritical
		case failureRate > 0.15:
			sev = domain.SeverityHigh
		}
		out = append(out, Bottleneck{Kind: "failures", Severity: sev,
			Detail: "job failure rate exceeds threshold"})
	}
	if avgProc > 30*time.Second {
		sev := domain.SeverityMedium
		switch {
		case avgProc > 120*time.Second:
			sev = domain.SeverityCritical
		case avgProc > 60*time.Second:
			sev = domain.SeverityHigh
		}
		out = append(out, Bottleneck{Kind: "slow_processing", Severity: sev,
			Detail: "average execution time exceeds threshold"})
	}
	return out
}

func trendOf(prev, cur Snapshot, hasPrev bool) domain.TrendLabel {
	if !hasPrev {
		return domain.TrendStable
	}
	delta := cur.Score - prev.Score
	switch {
	case delta > 0.1 && cur.ThroughputPM > prev.ThroughputPM:
		return domain.TrendImproving
	case delta < -0.1 || cur.AvgProcessing-prev.AvgProcessing > 5*time.Second:
		return domain.TrendWorsening
	default:
		return domain.TrendStable
	}
}

// avgProcessing folds the per-kind stats into one weighted mean.
func avgProcessing(stats map[domain.JobKind]domain.JobStats) time.Duration {
	var totalMs float64
	var total int64
	for _, s := range stats {
		totalMs += s.AvgExecutionMs * float64(s.Processed)
		total += s.Processed
	}
	if total == 0 {
		return 0
	}
	return time.Duration(totalMs/float64(total)) * time.Millisecond
}

// Check runs one observation cycle over every queue.
func (m *Monitor) Check(ctx domain.Context) ([]Snapshot, error) {
	queues, err := m.Inspector.Queues(ctx)
	if err != nil {
		return nil, err
	}

	var jobStats map[domain.JobKind]domain.JobStats
	if m.Stats != nil {
		jobStats = m.Stats.Snapshot()
	}
	avgProc := avgProcessing(jobStats)
	now := m.now()

	// Probe every queue in parallel, then score sequentially in queue order.
	probed := make(map[string]domain.QueueStats, len(queues))
	var pmu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error {
			st, err := m.Inspector.Stats(gctx, q)
			if err != nil {
				slog.Warn("queue stats unavailable", slog.String("queue", q), slog.Any("error", err))
				return nil
			}
			pmu.Lock()
			probed[q] = st
			pmu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Snapshot, 0, len(queues))
	for _, q := range queues {
		st, ok := probed[q]
		if !ok {
			continue
		}

		total := st.Processed + st.FailedAll
		var failureRate float64
		if total > 0 {
			failureRate = float64(st.FailedAll) / float64(total)
		}

		m.mu.RLock()
		prev, hasPrev := m.last[q]
		m.mu.RUnlock()

		var throughputPM float64
		if hasPrev {
			elapsed := now.Sub(prev.ObservedAt).Minutes()
			if elapsed > 0 {
				throughputPM = float64(st.Processed-prev.totalProcessed) / elapsed
			}
		} else {
			// First observation has no delta; assume nominal throughput so
			// a fresh process does not start below the gate.
			throughputPM = 5
		}

		snap := Snapshot{
			Queue:          q,
			Waiting:        int64(st.Waiting),
			Active:         int64(st.Active),
			FailureRate:    failureRate,
			AvgProcessing:  avgProc,
			ThroughputPM:   throughputPM,
			ObservedAt:     now,
			totalProcessed: st.Processed,
		}
		snap.Score = score(failureRate, avgProc, int64(st.Waiting), throughputPM)
		snap.Bottlenecks = classify(int64(st.Waiting), failureRate, avgProc)
		snap.Trend = trendOf(prev, snap, hasPrev)

		m.mu.Lock()
		m.last[q] = snap
		m.mu.Unlock()

		observability.QueueHealthScore.WithLabelValues(q).Set(snap.Score)
		if m.Cache != nil {
			if err := m.Cache.Set(ctx, "queue-health:"+q, snap, 2*m.Interval); err != nil {
				slog.Warn("health snapshot cache write failed", slog.Any("error", err))
			}
		}
		out = append(out, snap)
	}
	return out, nil
}

// Score returns the last observed score for a queue. Unobserved queues
// report healthy so gates fail open before the first cycle.
func (m *Monitor) Score(queue string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if snap, ok := m.last[queue]; ok {
		return snap.Score
	}
	return 1.0
}

// Snapshots returns the most recent observation per queue.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.last))
	for _, s := range m.last {
		out = append(out, s)
	}
	return out
}

// Run polls until the context ends.
func (m *Monitor) Run(ctx domain.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				slog.Error("queue health check failed", slog.Any("error", err))
			}
		}
	}
}
