package asynqadp

import (
	"sync"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// StatsRegistry tracks per-job-kind execution counters. The average execution
// time is an incremental mean so no sample history is retained.
type StatsRegistry struct {
	mu    sync.Mutex
	stats map[domain.JobKind]*domain.JobStats
	now   func() time.Time
}

// NewStatsRegistry constructs an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{
		stats: make(map[domain.JobKind]*domain.JobStats),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record folds one finished execution into the counters.
func (r *StatsRegistry) Record(kind domain.JobKind, dur time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.stats[kind]
	if !exists {
		s = &domain.JobStats{}
		r.stats[kind] = s
	}
	s.Processed++
	if ok {
		s.Successful++
	} else {
		s.Failed++
	}
	ms := float64(dur.Milliseconds())
	s.AvgExecutionMs += (ms - s.AvgExecutionMs) / float64(s.Processed)
	s.LastProcessedAt = r.now()
}

// Snapshot returns a copy of all counters.
func (r *StatsRegistry) Snapshot() map[domain.JobKind]domain.JobStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.JobKind]domain.JobStats, len(r.stats))
	for k, v := range r.stats {
		out[k] = *v
	}
	return out
}

// Get returns the counters for one kind.
func (r *StatsRegistry) Get(kind domain.JobKind) domain.JobStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[kind]; ok {
		return *s
	}
	return domain.JobStats{}
}
