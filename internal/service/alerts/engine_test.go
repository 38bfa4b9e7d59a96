package alerts_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/alerts"
)

type memAlertRepo struct {
	mu      sync.Mutex
	records map[string]domain.AlertRecord
	seq     int
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{records: make(map[string]domain.AlertRecord)}
}

func (r *memAlertRepo) Create(_ domain.Context, a domain.AlertRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	a.ID = fmt.Sprintf("alert-%d", r.seq)
	r.records[a.ID] = a
	return a.ID, nil
}

func (r *memAlertRepo) Get(_ domain.Context, id string) (domain.AlertRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return domain.AlertRecord{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *memAlertRepo) MarkDelivery(_ domain.Context, id, deliveryID string, sent bool, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.EmailDeliveryID = deliveryID
	a.EmailSent = sent
	a.EmailError = errMsg
	r.records[id] = a
	return nil
}

func (r *memAlertRepo) Acknowledge(_ domain.Context, id, user string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Acknowledged {
		return domain.ErrConflict
	}
	a.Acknowledged = true
	a.AcknowledgedBy = user
	a.AcknowledgedAt = &at
	r.records[id] = a
	return nil
}

func (r *memAlertRepo) ListActive(_ domain.Context, limit int) ([]domain.AlertRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AlertRecord
	for _, a := range r.records {
		if !a.Acknowledged {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memAlertRepo) DeleteOlderThan(_ domain.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.records {
		if a.TriggeredAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

type memQueue struct {
	mu       sync.Mutex
	enqueued []domain.JobPayload
}

func (q *memQueue) Enqueue(_ domain.Context, p domain.JobPayload, _ domain.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, p)
	return fmt.Sprintf("task-%d", len(q.enqueued)), nil
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func defaultThresholds() alerts.Thresholds {
	return alerts.Thresholds{
		ConsecutiveAPIFailures: 5,
		HighPollutionAQI:       150,
		ExtremePollutionAQI:    200,
		QueueBacklogSize:       100,
		SystemErrorRate:        0.1,
		StorageUsage:           0.8,
	}
}

func newEngine(t *testing.T, now *time.Time) (*alerts.Engine, *memAlertRepo, *memQueue) {
	t.Helper()
	repo := newMemAlertRepo()
	q := &memQueue{}
	eng := alerts.NewEngine(repo, q, defaultThresholds(),
		[]string{"ops@example.com"}, []string{"oncall@example.com"}).
		WithClock(func() time.Time { return *now })
	return eng, repo, q
}

func TestTriggerCreatesRecordAndQueuesDelivery(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, q := newEngine(t, &now)

	id, err := eng.Trigger(context.Background(), domain.AlertHighPollution, "hp:paris", "c1",
		map[string]any{"aqi": 180})
	require.NoError(t, err)

	rec, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertHighPollution, rec.Type)
	assert.Equal(t, domain.SeverityMedium, rec.Severity)
	assert.Equal(t, []string{"ops@example.com"}, rec.Recipients)
	assert.False(t, rec.Escalated)
	assert.Equal(t, 1, q.count())
}

func TestTriggerThrottledInsideWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, _, q := newEngine(t, &now)

	_, err := eng.Trigger(context.Background(), domain.AlertQueueBacklog, "qb:alerts", "c1", nil)
	require.NoError(t, err)

	// queue_backlog throttles for 15 minutes.
	now = now.Add(5 * time.Minute)
	_, err = eng.Trigger(context.Background(), domain.AlertQueueBacklog, "qb:alerts", "c2", nil)
	require.ErrorIs(t, err, domain.ErrAlertThrottled)
	assert.Equal(t, 1, q.count())
}

func TestTriggerEscalatesAfterRepeats(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)
	ctx := context.Background()

	_, err := eng.Trigger(ctx, domain.AlertQueueBacklog, "qb:alerts", "c1", nil)
	require.NoError(t, err)

	// Repeats inside the 15-minute throttle window are suppressed but still
	// counted toward escalation.
	for i := 0; i < 3; i++ {
		now = now.Add(time.Minute)
		_, terr := eng.Trigger(ctx, domain.AlertQueueBacklog, "qb:alerts", "c2", nil)
		require.ErrorIs(t, terr, domain.ErrAlertThrottled)
	}

	// The first trigger past the window crossed the repeat threshold, so it
	// fires escalated and pages the oncall list.
	now = now.Add(13 * time.Minute)
	id, err := eng.Trigger(ctx, domain.AlertQueueBacklog, "qb:alerts", "c3", nil)
	require.NoError(t, err)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Escalated)
	assert.Contains(t, rec.Recipients, "oncall@example.com")
	assert.Equal(t, 2, repo.count(), "escalation does not break the one-alert-per-window rule")
}

func TestTriggerOneRecordPerThrottleWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, q := newEngine(t, &now)
	ctx := context.Background()

	// Five backlog triggers one minute apart all land inside the 15-minute
	// window; only the first produces a record and a delivery job.
	for i := 0; i < 5; i++ {
		_, err := eng.Trigger(ctx, domain.AlertQueueBacklog, "qb:alerts", "c", nil)
		if i == 0 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, domain.ErrAlertThrottled)
		}
		now = now.Add(time.Minute)
	}

	assert.Equal(t, 1, repo.count())
	assert.Equal(t, 1, q.count())
}

func TestTriggerUnknownCondition(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, _, _ := newEngine(t, &now)
	_, err := eng.Trigger(context.Background(), "mystery", "k", "c", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestObservePollutionThresholds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)

	rd := domain.Reading{Location: "paris", Timestamp: now, AQI: 120, Level: domain.LevelSensitive}
	eng.ObservePollution(context.Background(), rd, "c1")
	active, _ := repo.ListActive(context.Background(), 10)
	assert.Empty(t, active, "120 is below the high threshold")

	rd.AQI = 160
	eng.ObservePollution(context.Background(), rd, "c2")
	active, _ = repo.ListActive(context.Background(), 10)
	require.Len(t, active, 1)
	assert.Equal(t, domain.AlertHighPollution, active[0].Type)

	rd.AQI = 250
	eng.ObservePollution(context.Background(), rd, "c3")
	active, _ = repo.ListActive(context.Background(), 10)
	require.Len(t, active, 2)
}

func TestObserveFetchOutcomeStreak(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		eng.ObserveFetchOutcome(ctx, false, "c", "timeout")
	}
	active, _ := repo.ListActive(ctx, 10)
	assert.Empty(t, active, "streak of 4 is below the threshold of 5")

	// A success resets the streak.
	eng.ObserveFetchOutcome(ctx, true, "c", "")
	for i := 0; i < 4; i++ {
		eng.ObserveFetchOutcome(ctx, false, "c", "timeout")
	}
	active, _ = repo.ListActive(ctx, 10)
	assert.Empty(t, active)

	eng.ObserveFetchOutcome(ctx, false, "c", "timeout")
	active, _ = repo.ListActive(ctx, 10)
	require.Len(t, active, 1)
	assert.Equal(t, domain.AlertAPIFailures, active[0].Type)
	assert.Equal(t, domain.SeverityCritical, active[0].Severity)
}

func TestAcknowledgeResetsThrottle(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)
	ctx := context.Background()

	id, err := eng.Trigger(ctx, domain.AlertStorageUsage, "su", "c1", nil)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = eng.Trigger(ctx, domain.AlertStorageUsage, "su", "c2", nil)
	require.ErrorIs(t, err, domain.ErrAlertThrottled)

	require.NoError(t, eng.Acknowledge(ctx, id, "sre"))
	rec, _ := repo.Get(ctx, id)
	assert.True(t, rec.Acknowledged)
	assert.Equal(t, "sre", rec.AcknowledgedBy)

	now = now.Add(time.Minute)
	_, err = eng.Trigger(ctx, domain.AlertStorageUsage, "su", "c3", nil)
	assert.NoError(t, err, "acknowledged condition may fire again")
}

type fakeMailer struct {
	fail  bool
	calls int
}

func (m *fakeMailer) Send(_ domain.Context, _ domain.Message) (string, error) {
	m.calls++
	if m.fail {
		return "", fmt.Errorf("smtp unavailable")
	}
	return "delivery-1", nil
}

func TestDeliverMarksOutcome(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)
	ctx := context.Background()

	id, err := eng.Trigger(ctx, domain.AlertHighPollution, "hp", "c1", map[string]any{"aqi": 170})
	require.NoError(t, err)

	m := &fakeMailer{}
	require.NoError(t, eng.Deliver(ctx, id, m))
	rec, _ := repo.Get(ctx, id)
	assert.True(t, rec.EmailSent)
	assert.Equal(t, "delivery-1", rec.EmailDeliveryID)

	// Re-delivery of a sent alert is a no-op.
	require.NoError(t, eng.Deliver(ctx, id, m))
	assert.Equal(t, 1, m.calls)
}

func TestDeliverRecordsFailure(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	eng, repo, _ := newEngine(t, &now)
	ctx := context.Background()

	id, err := eng.Trigger(ctx, domain.AlertHighPollution, "hp", "c1", nil)
	require.NoError(t, err)

	require.Error(t, eng.Deliver(ctx, id, &fakeMailer{fail: true}))
	rec, _ := repo.Get(ctx, id)
	assert.False(t, rec.EmailSent)
	assert.Contains(t, rec.EmailError, "smtp unavailable")
}
