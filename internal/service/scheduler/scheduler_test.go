package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/service/scheduler"
)

func TestExecuteManuallyRunsBody(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	var runs atomic.Int32
	require.NoError(t, s.Register("job-a", "@hourly", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.ExecuteManually(context.Background(), "job-a"))
	assert.Equal(t, int32(1), runs.Load())

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].ExecutionCount)
	assert.Zero(t, stats[0].FailureCount)
}

func TestExecuteManuallyUnknownJob(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	assert.Error(t, s.ExecuteManually(context.Background(), "nope"))
}

func TestGateRefusalSkipsWithoutFailure(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	var runs atomic.Int32
	allow := atomic.Bool{}
	gate := func() (bool, string) {
		if allow.Load() {
			return true, ""
		}
		return false, "skipped: breaker-open"
	}
	require.NoError(t, s.Register("gated", "@hourly", func(context.Context) error {
		runs.Add(1)
		return nil
	}, gate))

	require.NoError(t, s.ExecuteManually(context.Background(), "gated"))
	assert.Zero(t, runs.Load())

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].SkippedCount)
	assert.Equal(t, "skipped: breaker-open", stats[0].LastSkipReason)
	assert.Zero(t, stats[0].ExecutionCount)

	allow.Store(true)
	require.NoError(t, s.ExecuteManually(context.Background(), "gated"))
	assert.Equal(t, int32(1), runs.Load())
}

func TestToggleDisablesJob(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	var runs atomic.Int32
	require.NoError(t, s.Register("toggled", "@hourly", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.Toggle("toggled", false))
	require.NoError(t, s.ExecuteManually(context.Background(), "toggled"))
	assert.Zero(t, runs.Load())

	require.NoError(t, s.Toggle("toggled", true))
	require.NoError(t, s.ExecuteManually(context.Background(), "toggled"))
	assert.Equal(t, int32(1), runs.Load())

	assert.Error(t, s.Toggle("nope", true))
}

func TestFailureRecorded(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	boom := errors.New("enqueue failed")
	require.NoError(t, s.Register("failing", "@hourly", func(context.Context) error { return boom }))

	err := s.ExecuteManually(context.Background(), "failing")
	require.ErrorIs(t, err, boom)

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].FailureCount)
	assert.Equal(t, "enqueue failed", stats[0].LastError)
}

func TestRegisterDuplicateName(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	require.NoError(t, s.Register("dup", "@hourly", func(context.Context) error { return nil }))
	assert.Error(t, s.Register("dup", "@hourly", func(context.Context) error { return nil }))
}

func TestRegisterBadSpec(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	assert.Error(t, s.Register("bad", "not-a-cron", func(context.Context) error { return nil }))
}

func TestScheduleEvaluatedInUTC(t *testing.T) {
	t.Parallel()
	s := scheduler.New()
	require.NoError(t, s.Register("nightly", "0 2 * * *", func(context.Context) error { return nil }))
	s.Start()
	defer s.Stop()

	stats := s.Stats()
	require.Len(t, stats, 1)
	next := stats[0].NextExecution
	require.False(t, next.IsZero())
	// Bare specs fire at the named hour in UTC regardless of the host zone.
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, 2, next.Hour())
}

func TestBucketKeyStableWithinBucket(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 25, 12, 0, 10, 0, time.UTC)

	k1 := scheduler.BucketKey("fetch-paris-data", base, time.Minute)
	k2 := scheduler.BucketKey("fetch-paris-data", base.Add(40*time.Second), time.Minute)
	k3 := scheduler.BucketKey("fetch-paris-data", base.Add(60*time.Second), time.Minute)

	assert.Equal(t, k1, k2, "same minute bucket")
	assert.NotEqual(t, k1, k3, "next bucket differs")
	assert.Contains(t, k1, "fetch-paris-data-")
}
