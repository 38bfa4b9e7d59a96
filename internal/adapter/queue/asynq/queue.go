// Package asynqadp adapts the hibiken/asynq broker to the domain Queue port.
// Queues are Redis-backed; priorities map onto weighted queues, retries and
// delays onto asynq's scheduling options.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Task type names on the wire.
const (
	TaskFetch          = "aq:fetch"
	TaskAggregateDaily = "aq:aggregate_daily"
	TaskSendAlert      = "aq:send_alert"
	TaskMigrate        = "aq:migrate"
	TaskCleanup        = "aq:cleanup"
)

// taskType maps a job kind to its wire name.
func taskType(kind domain.JobKind) string {
	switch kind {
	case domain.JobFetch:
		return TaskFetch
	case domain.JobAggregateDaily:
		return TaskAggregateDaily
	case domain.JobSendAlert:
		return TaskSendAlert
	case domain.JobMigrate:
		return TaskMigrate
	case domain.JobCleanup:
		return TaskCleanup
	default:
		return "aq:" + string(kind)
	}
}

// defaultQueue is the home queue per kind when the caller leaves opts.Queue empty.
func defaultQueue(kind domain.JobKind) string {
	switch kind {
	case domain.JobFetch:
		return domain.QueueAirQuality
	case domain.JobAggregateDaily:
		return domain.QueueAggregation
	case domain.JobSendAlert:
		return domain.QueueAlerts
	default:
		return domain.QueueMaintenance
	}
}

// QueueWeights order claims across queues; higher drains first.
// critical > alerts > airQuality > aggregation > maintenance.
var QueueWeights = map[string]int{
	domain.QueueCritical:    10,
	domain.QueueAlerts:      6,
	domain.QueueAirQuality:  4,
	domain.QueueAggregation: 2,
	domain.QueueMaintenance: 1,
}

// queueFor maps a job's priority onto the weighted queues: urgent and above
// land on the critical queue, everything else on the explicit queue or the
// kind's home queue.
func queueFor(explicit string, kind domain.JobKind, p domain.Priority) string {
	if p >= domain.PriorityUrgent {
		return domain.QueueCritical
	}
	if explicit != "" {
		return explicit
	}
	return defaultQueue(kind)
}

// Queue implements domain.Queue over an asynq client plus a dedupe guard.
type Queue struct {
	client    *asynq.Client
	dedupe    *DedupeGuard
	dedupeTTL time.Duration
	retention time.Duration
}

// New parses the Redis URI and constructs the producer side of the broker.
func New(redisURL string, dedupe *DedupeGuard, dedupeTTL, retention time.Duration) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: %w", err)
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 5 * time.Minute
	}
	return &Queue{
		client:    asynq.NewClient(opt),
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		retention: retention,
	}, nil
}

// Enqueue schedules one job. A held dedupe key suppresses the enqueue and
// returns ErrDedupeSuppressed; the caller observes it through stats only.
func (q *Queue) Enqueue(ctx domain.Context, p domain.JobPayload, opts domain.EnqueueOptions) (string, error) {
	kind := p.Kind()
	if opts.DedupeKey != "" && q.dedupe != nil {
		if !q.dedupe.Acquire(opts.DedupeKey, q.dedupeTTL) {
			observability.DedupeJob(string(kind))
			return "", fmt.Errorf("op=queue.enqueue kind=%s key=%s: %w", kind, opts.DedupeKey, domain.ErrDedupeSuppressed)
		}
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	t := asynq.NewTask(taskType(kind), b)

	queue := queueFor(opts.Queue, kind, opts.Priority)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = q.retention
	}

	aopts := []asynq.Option{
		asynq.Queue(queue),
		// asynq counts retries after the first attempt.
		asynq.MaxRetry(maxAttempts - 1),
		asynq.Retention(retention),
	}
	if opts.Delay > 0 {
		aopts = append(aopts, asynq.ProcessIn(opts.Delay))
	}
	if opts.Timeout > 0 {
		aopts = append(aopts, asynq.Timeout(opts.Timeout))
	}

	info, err := q.client.EnqueueContext(ctx, t, aopts...)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue kind=%s: %w", kind, err)
	}
	observability.EnqueueJob(string(kind))
	return info.ID, nil
}

// Close releases the underlying client connection.
func (q *Queue) Close() error { return q.client.Close() }
