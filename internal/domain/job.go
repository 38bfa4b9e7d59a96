package domain

import "time"

// JobKind tags the variant of work a queued job carries. The dispatcher
// switches on the tag and decodes the matching payload type.
type JobKind string

const (
	JobFetch          JobKind = "fetch"
	JobAggregateDaily JobKind = "aggregate_daily"
	JobSendAlert      JobKind = "send_alert"
	JobMigrate        JobKind = "migrate"
	JobCleanup        JobKind = "cleanup"
)

// Priority orders claims within a queue. Higher is claimed first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityUrgent   Priority = 15
	PriorityCritical Priority = 20
)

// JobStatus mirrors the broker's lifecycle states.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
	JobStalled   JobStatus = "stalled"
)

// Queue names. Each job kind has a home queue; priorities weight claims
// across them. Jobs at PriorityUrgent or above are promoted onto the
// critical queue regardless of their home queue.
const (
	QueueCritical    = "critical"
	QueueAirQuality  = "airQuality"
	QueueAggregation = "aggregation"
	QueueAlerts      = "alerts"
	QueueMaintenance = "maintenance"
)

// JobPayload is implemented by every typed payload variant.
type JobPayload interface {
	Kind() JobKind
}

// FetchPayload asks the fetch handler to pull one location from upstream.
type FetchPayload struct {
	Location      string `json:"location"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	CorrelationID string `json:"correlation_id"`
}

// Kind implements JobPayload.
func (FetchPayload) Kind() JobKind { return JobFetch }

// AggregateDailyPayload requests the aggregation pipeline for one
// (location, date). Partial marks a current-day computation: the result is
// cached but not upserted.
type AggregateDailyPayload struct {
	Location      string `json:"location"`
	Date          string `json:"date"` // YYYY-MM-DD
	Partial       bool   `json:"partial"`
	CorrelationID string `json:"correlation_id"`
}

// Kind implements JobPayload.
func (AggregateDailyPayload) Kind() JobKind { return JobAggregateDaily }

// SendAlertPayload carries an already-persisted alert to the delivery handler.
type SendAlertPayload struct {
	AlertID       string `json:"alert_id"`
	CorrelationID string `json:"correlation_id"`
}

// Kind implements JobPayload.
func (SendAlertPayload) Kind() JobKind { return JobSendAlert }

// MigratePayload moves readings older than Cutoff from one tier to the next.
type MigratePayload struct {
	From          Tier      `json:"from"`
	To            Tier      `json:"to"`
	Cutoff        time.Time `json:"cutoff"`
	BatchSize     int       `json:"batch_size"`
	CorrelationID string    `json:"correlation_id"`
}

// Kind implements JobPayload.
func (MigratePayload) Kind() JobKind { return JobMigrate }

// CleanupPayload prunes terminal broker jobs and stale alert records.
type CleanupPayload struct {
	OlderThanDays int    `json:"older_than_days"`
	CorrelationID string `json:"correlation_id"`
}

// Kind implements JobPayload.
func (CleanupPayload) Kind() JobKind { return JobCleanup }

// EnqueueOptions tune how the broker schedules a job.
type EnqueueOptions struct {
	Queue       string
	Priority    Priority
	Delay       time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Retention   time.Duration
	// DedupeKey suppresses re-enqueue of the same logical job while the key
	// is live (bucketed keys expire with their bucket).
	DedupeKey string
}

// JobStats is the dispatcher's per-(queue,kind) counter set.
type JobStats struct {
	Processed       int64
	Successful      int64
	Failed          int64
	AvgExecutionMs  float64
	LastProcessedAt time.Time
}

// QueueStats is a broker-side snapshot of one queue.
type QueueStats struct {
	Queue     string
	Waiting   int
	Active    int
	Scheduled int
	Retry     int
	Completed int
	Failed    int
	Processed int64
	FailedAll int64
	Paused    bool
	Latency   time.Duration
}
