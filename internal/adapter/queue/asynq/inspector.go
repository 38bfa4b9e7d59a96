package asynqadp

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Inspector adapts asynq's Inspector to the domain QueueInspector port.
type Inspector struct {
	inner *asynq.Inspector
}

// NewInspector constructs the broker-side stats reader.
func NewInspector(redisURL string) (*Inspector, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=inspector.new: %w", err)
	}
	return &Inspector{inner: asynq.NewInspector(opt)}, nil
}

// Queues lists queue names known to the broker.
func (i *Inspector) Queues(_ domain.Context) ([]string, error) {
	qs, err := i.inner.Queues()
	if err != nil {
		return nil, fmt.Errorf("op=inspector.queues: %w", err)
	}
	return qs, nil
}

// Stats returns a point-in-time snapshot of one queue. Archived tasks are
// the broker's terminal failures.
func (i *Inspector) Stats(_ domain.Context, queue string) (domain.QueueStats, error) {
	info, err := i.inner.GetQueueInfo(queue)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=inspector.stats queue=%s: %w", queue, err)
	}
	return domain.QueueStats{
		Queue:     queue,
		Waiting:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Completed: info.Completed,
		Failed:    info.Archived,
		Processed: int64(info.Processed),
		FailedAll: int64(info.Failed),
		Paused:    info.Paused,
		Latency:   info.Latency,
	}, nil
}

// PruneTerminal drops completed and archived tasks from a queue. The weekly
// cleanup uses it to keep the broker lean beyond per-task retention.
func (i *Inspector) PruneTerminal(queue string) (int, error) {
	n, err := i.inner.DeleteAllCompletedTasks(queue)
	if err != nil {
		return n, fmt.Errorf("op=inspector.prune queue=%s: %w", queue, err)
	}
	m, err := i.inner.DeleteAllArchivedTasks(queue)
	if err != nil {
		return n + m, fmt.Errorf("op=inspector.prune queue=%s: %w", queue, err)
	}
	return n + m, nil
}

// Pause stops claims from a queue; Resume restarts them.
func (i *Inspector) Pause(queue string) error   { return i.inner.PauseQueue(queue) }
func (i *Inspector) Resume(queue string) error  { return i.inner.UnpauseQueue(queue) }

// Close releases the underlying connection.
func (i *Inspector) Close() error { return i.inner.Close() }
