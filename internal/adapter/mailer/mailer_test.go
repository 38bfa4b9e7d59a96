package mailer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/mailer"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(_ domain.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

// flakyMailer fails the first failures calls, then succeeds.
type flakyMailer struct {
	failures int
	calls    int
}

func (m *flakyMailer) Send(_ domain.Context, _ domain.Message) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("provider 503")
	}
	return "delivery-ok", nil
}

func msg() domain.Message {
	return domain.Message{
		To:      []string{"ops@example.com", "oncall@example.com"},
		Subject: "air quality alert",
		Body:    "AQI over threshold",
	}
}

func TestLimitedMailerSends(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowed: true}
	next := &flakyMailer{}
	m := mailer.NewLimited(next, lim, 3, time.Millisecond)

	id, err := m.Send(context.Background(), msg())
	require.NoError(t, err)
	assert.Equal(t, "delivery-ok", id)
	assert.Equal(t, 1, next.calls)
	require.Len(t, lim.keys, 1)
	assert.Equal(t, "ops@example.com,oncall@example.com", lim.keys[0], "budget key is the recipient batch")
}

func TestLimitedMailerBudgetExhausted(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowed: false}
	next := &flakyMailer{}
	m := mailer.NewLimited(next, lim, 3, time.Millisecond)

	_, err := m.Send(context.Background(), msg())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Zero(t, next.calls, "no provider call when the budget is gone")
}

func TestLimitedMailerRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowed: true}
	next := &flakyMailer{failures: 2}
	m := mailer.NewLimited(next, lim, 3, time.Millisecond)

	id, err := m.Send(context.Background(), msg())
	require.NoError(t, err)
	assert.Equal(t, "delivery-ok", id)
	assert.Equal(t, 3, next.calls, "two failed attempts then success")
}

func TestLimitedMailerGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowed: true}
	next := &flakyMailer{failures: 10}
	m := mailer.NewLimited(next, lim, 3, time.Millisecond)

	_, err := m.Send(context.Background(), msg())
	require.Error(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestLimitedMailerFailsOpenOnLimiterError(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowed: false, err: errors.New("redis down")}
	next := &flakyMailer{}
	m := mailer.NewLimited(next, lim, 3, time.Millisecond)

	id, err := m.Send(context.Background(), msg())
	require.NoError(t, err, "a broken limiter never blocks alert email")
	assert.Equal(t, "delivery-ok", id)
}
