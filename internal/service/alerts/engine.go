// Package alerts evaluates alert conditions, throttles repeats and hands
// triggered alerts off for email delivery.
package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Condition defines throttle and escalation policy for one alert type.
type Condition struct {
	Type             string
	Severity         domain.Severity
	ThrottleWindow   time.Duration
	EscalationWindow time.Duration
	EscalateAfter    int
}

// conditions is the policy table. Severity orders recipient urgency;
// windows bound how often the same condition may page.
var conditions = map[string]Condition{
	domain.AlertAPIFailures: {
		Type: domain.AlertAPIFailures, Severity: domain.SeverityCritical,
		ThrottleWindow: 30 * time.Minute, EscalationWindow: 60 * time.Minute, EscalateAfter: 3,
	},
	domain.AlertHighPollution: {
		Type: domain.AlertHighPollution, Severity: domain.SeverityMedium,
		ThrottleWindow: 60 * time.Minute, EscalationWindow: 120 * time.Minute, EscalateAfter: 3,
	},
	domain.AlertExtremePollution: {
		Type: domain.AlertExtremePollution, Severity: domain.SeverityHigh,
		ThrottleWindow: 30 * time.Minute, EscalationWindow: 60 * time.Minute, EscalateAfter: 3,
	},
	domain.AlertQueueBacklog: {
		Type: domain.AlertQueueBacklog, Severity: domain.SeverityMedium,
		ThrottleWindow: 15 * time.Minute, EscalationWindow: 45 * time.Minute, EscalateAfter: 3,
	},
	domain.AlertSystemErrorRate: {
		Type: domain.AlertSystemErrorRate, Severity: domain.SeverityHigh,
		ThrottleWindow: 10 * time.Minute, EscalationWindow: 30 * time.Minute, EscalateAfter: 3,
	},
	domain.AlertStorageUsage: {
		Type: domain.AlertStorageUsage, Severity: domain.SeverityMedium,
		ThrottleWindow: 60 * time.Minute, EscalationWindow: 180 * time.Minute, EscalateAfter: 3,
	},
}

// Thresholds are the trigger levels the evaluators compare against.
type Thresholds struct {
	ConsecutiveAPIFailures int
	HighPollutionAQI       int
	ExtremePollutionAQI    int
	QueueBacklogSize       int
	SystemErrorRate        float64
	StorageUsage           float64
}

// Engine owns condition evaluation. Triggered alerts are persisted and
// queued for email delivery on the alerts queue.
type Engine struct {
	Repo     domain.AlertRepository
	Queue    domain.Queue
	Throttle *Throttle

	Thresholds           Thresholds
	Recipients           []string
	EscalationRecipients []string

	mu          sync.Mutex
	apiFailures int

	now func() time.Time
}

// NewEngine constructs an alert engine.
func NewEngine(repo domain.AlertRepository, q domain.Queue, th Thresholds, recipients, escalation []string) *Engine {
	return &Engine{
		Repo:                 repo,
		Queue:                q,
		Throttle:             NewThrottle(),
		Thresholds:           th,
		Recipients:           recipients,
		EscalationRecipients: escalation,
		now:                  time.Now,
	}
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.Throttle.WithClock(now)
	return e
}

// Trigger runs one condition through the throttle, persists the record and
// queues delivery. A suppressed trigger returns ErrAlertThrottled.
func (e *Engine) Trigger(ctx domain.Context, condType, throttleKey, correlationID string, payload map[string]any) (string, error) {
	cond, ok := conditions[condType]
	if !ok {
		return "", fmt.Errorf("op=alerts.trigger type=%s: %w", condType, domain.ErrInvalidArgument)
	}

	d := e.Throttle.Check(throttleKey, cond.ThrottleWindow, cond.EscalationWindow, cond.EscalateAfter)
	if d.Suppressed {
		observability.AlertsThrottledTotal.WithLabelValues(condType).Inc()
		slog.Debug("alert suppressed",
			slog.String("type", condType), slog.String("key", throttleKey), slog.Int("count", d.Count))
		return "", fmt.Errorf("op=alerts.trigger type=%s key=%s: %w", condType, throttleKey, domain.ErrAlertThrottled)
	}

	recipients := e.Recipients
	if d.Escalated {
		recipients = append(append([]string{}, e.Recipients...), e.EscalationRecipients...)
	}
	rec := domain.AlertRecord{
		Type:        condType,
		Severity:    cond.Severity,
		Payload:     payload,
		TriggeredAt: e.now(),
		ThrottleKey: throttleKey,
		Escalated:   d.Escalated,
		Recipients:  recipients,
	}
	id, err := e.Repo.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	observability.AlertsTriggeredTotal.WithLabelValues(condType, string(cond.Severity)).Inc()
	slog.Warn("alert triggered",
		slog.String("type", condType), slog.String("severity", string(cond.Severity)),
		slog.String("id", id), slog.Bool("escalated", d.Escalated))

	_, err = e.Queue.Enqueue(ctx, domain.SendAlertPayload{AlertID: id, CorrelationID: correlationID},
		domain.EnqueueOptions{Queue: domain.QueueAlerts, Priority: priorityFor(cond.Severity), MaxAttempts: 3})
	if err != nil {
		// Record exists; delivery can be retried manually, so do not fail.
		slog.Error("alert delivery enqueue failed", slog.String("id", id), slog.Any("error", err))
	}
	return id, nil
}

func priorityFor(s domain.Severity) domain.Priority {
	switch s {
	case domain.SeverityCritical:
		return domain.PriorityCritical
	case domain.SeverityHigh:
		return domain.PriorityHigh
	case domain.SeverityMedium:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// ObservePollution checks a fresh reading against the pollution thresholds.
func (e *Engine) ObservePollution(ctx domain.Context, rd domain.Reading, correlationID string) {
	payload := map[string]any{
		"location": rd.Location,
		"aqi":      rd.AQI,
		"level":    string(rd.Level),
		"ts":       rd.Timestamp.UTC().Format(time.RFC3339),
	}
	switch {
	case rd.AQI >= e.Thresholds.ExtremePollutionAQI:
		_, _ = e.Trigger(ctx, domain.AlertExtremePollution,
			domain.AlertExtremePollution+":"+rd.Location, correlationID, payload)
	case rd.AQI >= e.Thresholds.HighPollutionAQI:
		_, _ = e.Trigger(ctx, domain.AlertHighPollution,
			domain.AlertHighPollution+":"+rd.Location, correlationID, payload)
	}
}

// ObserveFetchOutcome tracks the consecutive upstream failure streak and
// triggers once it crosses the threshold. A success resets the streak.
func (e *Engine) ObserveFetchOutcome(ctx domain.Context, ok bool, correlationID string, cause string) {
	e.mu.Lock()
	if ok {
		e.apiFailures = 0
		e.mu.Unlock()
		return
	}
	e.apiFailures++
	streak := e.apiFailures
	e.mu.Unlock()

	if streak >= e.Thresholds.ConsecutiveAPIFailures {
		_, _ = e.Trigger(ctx, domain.AlertAPIFailures, domain.AlertAPIFailures, correlationID, map[string]any{
			"consecutiveFailures": streak,
			"cause":               cause,
		})
	}
}

// ObserveQueueStats checks queue depth against the backlog threshold.
func (e *Engine) ObserveQueueStats(ctx domain.Context, st domain.QueueStats, correlationID string) {
	if st.Waiting >= e.Thresholds.QueueBacklogSize {
		_, _ = e.Trigger(ctx, domain.AlertQueueBacklog,
			domain.AlertQueueBacklog+":"+st.Queue, correlationID, map[string]any{
				"queue":   st.Queue,
				"waiting": st.Waiting,
			})
	}
}

// ObserveErrorRate checks the rolling job failure rate.
func (e *Engine) ObserveErrorRate(ctx domain.Context, rate float64, correlationID string) {
	if rate >= e.Thresholds.SystemErrorRate {
		_, _ = e.Trigger(ctx, domain.AlertSystemErrorRate, domain.AlertSystemErrorRate,
			correlationID, map[string]any{"errorRate": rate})
	}
}

// ObserveStorageUsage checks hot-tier fill against the usage threshold,
// expressed as a 0..1 fraction of the expected ceiling.
func (e *Engine) ObserveStorageUsage(ctx domain.Context, usage float64, correlationID string) {
	if usage >= e.Thresholds.StorageUsage {
		_, _ = e.Trigger(ctx, domain.AlertStorageUsage, domain.AlertStorageUsage,
			correlationID, map[string]any{"usage": usage})
	}
}

// Acknowledge marks an alert handled and clears its throttle history so the
// condition can fire again immediately if it persists.
func (e *Engine) Acknowledge(ctx domain.Context, id, user string) error {
	rec, err := e.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.Acknowledge(ctx, id, user, e.now()); err != nil {
		return err
	}
	e.Throttle.Reset(rec.ThrottleKey)
	return nil
}

// Deliver sends the alert's email and records the outcome on the record.
// Used by the send-alert job handler.
func (e *Engine) Deliver(ctx domain.Context, alertID string, mailer domain.Mailer) error {
	rec, err := e.Repo.Get(ctx, alertID)
	if err != nil {
		return err
	}
	if rec.EmailSent {
		return nil
	}
	msg := RenderAlertEmail(rec)
	deliveryID, err := mailer.Send(ctx, msg)
	if err != nil {
		if merr := e.Repo.MarkDelivery(ctx, alertID, "", false, err.Error()); merr != nil {
			slog.Error("alert delivery bookkeeping failed", slog.String("id", alertID), slog.Any("error", merr))
		}
		return fmt.Errorf("op=alerts.deliver id=%s: %w", alertID, err)
	}
	return e.Repo.MarkDelivery(ctx, alertID, deliveryID, true, "")
}
