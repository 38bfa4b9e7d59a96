package domain

import "time"

// Ports consumed by the core. Implementations live under internal/adapter.

// RangeQuery filters a reading scan. Zero Start/End mean unbounded.
type RangeQuery struct {
	Location string
	Start    time.Time
	End      time.Time
	MinAQI   int
	Limit    int
}

// ReadingStore persists readings inside a single tier. Duplicate
// (location, timestamp) writes return ErrConflict.
type ReadingStore interface {
	Insert(ctx Context, tier Tier, r Reading) (string, error)
	QueryRange(ctx Context, tier Tier, q RangeQuery) ([]Reading, error)
	Latest(ctx Context, tier Tier, location string) (Reading, error)
	OlderThan(ctx Context, tier Tier, cutoff time.Time, limit int) ([]Reading, error)
	Delete(ctx Context, tier Tier, location string, ts time.Time) error
	Count(ctx Context, tier Tier) (int64, error)
}

// AggregationRepository stores daily rollups, unique on (date, location).
type AggregationRepository interface {
	Upsert(ctx Context, a DailyAggregation) error
	Get(ctx Context, location, date string) (DailyAggregation, error)
	Range(ctx Context, location, fromDate, toDate string) ([]DailyAggregation, error)
}

// AlertRepository stores triggered alerts.
type AlertRepository interface {
	Create(ctx Context, a AlertRecord) (string, error)
	Get(ctx Context, id string) (AlertRecord, error)
	MarkDelivery(ctx Context, id, deliveryID string, sent bool, errMsg string) error
	Acknowledge(ctx Context, id, user string, at time.Time) error
	ListActive(ctx Context, limit int) ([]AlertRecord, error)
	DeleteOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// Queue is the durable broker port. Enqueue returns the broker job id, or
// ErrDedupeSuppressed when opts.DedupeKey is already live.
type Queue interface {
	Enqueue(ctx Context, p JobPayload, opts EnqueueOptions) (string, error)
}

// QueueInspector exposes broker-side queue statistics for health scoring.
type QueueInspector interface {
	Queues(ctx Context) ([]string, error)
	Stats(ctx Context, queue string) (QueueStats, error)
}

// Mailer delivers rendered messages and returns a delivery id.
type Mailer interface {
	Send(ctx Context, msg Message) (string, error)
}

// Cache is a JSON read-through cache with TTLs and prefix invalidation.
type Cache interface {
	Get(ctx Context, key string, out any) (bool, error)
	Set(ctx Context, key string, v any, ttl time.Duration) error
	Invalidate(ctx Context, prefix string) error
}

// Breaker gates calls to a failing upstream. One shared instance per
// upstream endpoint.
type Breaker interface {
	Allow() bool
	OnSuccess()
	OnFailure()
}
