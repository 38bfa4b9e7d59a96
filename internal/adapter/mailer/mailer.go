// Package mailer delivers alert email. The log mailer stands in for a real
// SMTP or API provider; the limited mailer wraps any Mailer with the
// per-hour and per-day sending budget and retry policy.
package mailer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/ratelimiter"
)

// LogMailer writes messages to the structured log and fabricates delivery
// ids. Useful in dev and tests where no provider is wired.
type LogMailer struct{}

// Send logs the message and returns a ULID delivery id.
func (LogMailer) Send(_ domain.Context, msg domain.Message) (string, error) {
	id := ulid.Make().String()
	slog.Info("email delivered",
		slog.String("delivery_id", id),
		slog.String("to", strings.Join(msg.To, ",")),
		slog.String("subject", msg.Subject))
	return id, nil
}

// LimitedMailer enforces the sending budget and retries transient provider
// failures with exponential backoff before giving up.
type LimitedMailer struct {
	Next    domain.Mailer
	Limiter ratelimiter.Limiter

	RetryAttempts int
	RetryDelay    time.Duration
}

// NewLimited wraps a mailer with the rate limit and retry policy.
func NewLimited(next domain.Mailer, lim ratelimiter.Limiter, attempts int, delay time.Duration) *LimitedMailer {
	if attempts <= 0 {
		attempts = 3
	}
	return &LimitedMailer{Next: next, Limiter: lim, RetryAttempts: attempts, RetryDelay: delay}
}

// Send checks the budget per recipient batch, then delivers with retries.
func (m *LimitedMailer) Send(ctx domain.Context, msg domain.Message) (string, error) {
	key := strings.Join(msg.To, ",")
	allowed, err := m.Limiter.Allow(ctx, key)
	if err == nil && !allowed {
		return "", fmt.Errorf("op=mailer.send: sending budget exhausted: %w", domain.ErrRateLimited)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(m.RetryDelay)),
		uint64(m.RetryAttempts-1)), ctx)

	var deliveryID string
	op := func() error {
		id, err := m.Next.Send(ctx, msg)
		if err != nil {
			slog.Warn("email send attempt failed", slog.Any("error", err))
			return err
		}
		deliveryID = id
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("op=mailer.send: %w", err)
	}
	return deliveryID, nil
}
