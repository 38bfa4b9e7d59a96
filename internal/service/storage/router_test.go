package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/storage"
)

// fakeStore keeps per-tier readings in memory and records which tiers were
// queried. Queries run concurrently, so the marker map is guarded.
type fakeStore struct {
	mu      sync.Mutex
	data    map[domain.Tier][]domain.Reading
	queried map[domain.Tier]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:    make(map[domain.Tier][]domain.Reading),
		queried: make(map[domain.Tier]bool),
	}
}

func (s *fakeStore) Insert(_ domain.Context, tier domain.Tier, r domain.Reading) (string, error) {
	s.data[tier] = append(s.data[tier], r)
	return r.ID, nil
}

func (s *fakeStore) QueryRange(_ domain.Context, tier domain.Tier, q domain.RangeQuery) ([]domain.Reading, error) {
	s.mu.Lock()
	s.queried[tier] = true
	s.mu.Unlock()
	var out []domain.Reading
	for _, r := range s.data[tier] {
		if q.Location != "" && r.Location != q.Location {
			continue
		}
		if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !r.Timestamp.Before(q.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Latest(_ domain.Context, tier domain.Tier, location string) (domain.Reading, error) {
	var best domain.Reading
	found := false
	for _, r := range s.data[tier] {
		if r.Location != location {
			continue
		}
		if !found || r.Timestamp.After(best.Timestamp) {
			best = r
			found = true
		}
	}
	if !found {
		return domain.Reading{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *fakeStore) OlderThan(_ domain.Context, tier domain.Tier, cutoff time.Time, limit int) ([]domain.Reading, error) {
	var out []domain.Reading
	for _, r := range s.data[tier] {
		if r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ domain.Context, tier domain.Tier, location string, ts time.Time) error {
	kept := s.data[tier][:0]
	for _, r := range s.data[tier] {
		if r.Location == location && r.Timestamp.Equal(ts) {
			continue
		}
		kept = append(kept, r)
	}
	s.data[tier] = kept
	return nil
}

func (s *fakeStore) Count(_ domain.Context, tier domain.Tier) (int64, error) {
	return int64(len(s.data[tier])), nil
}

func TestQueryRangeRecentWindowHitsHotOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.data[domain.TierHot] = []domain.Reading{
		{Location: "paris", Timestamp: now.Add(-time.Hour), AQI: 60},
	}
	r := storage.NewRouter(store).WithClock(func() time.Time { return now })

	res, err := r.QueryRange(context.Background(), domain.RangeQuery{
		Location: "paris", Start: now.Add(-24 * time.Hour), End: now,
	})
	require.NoError(t, err)

	assert.Len(t, res.Readings, 1)
	assert.True(t, store.queried[domain.TierHot])
	assert.False(t, store.queried[domain.TierWarm])
	assert.False(t, store.queried[domain.TierCold])
	assert.Equal(t, 1, res.Sources[domain.TierHot])
}

func TestQueryRangeSpanningWindowFansOut(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.data[domain.TierHot] = []domain.Reading{
		{Location: "paris", Timestamp: now.Add(-2 * 24 * time.Hour), AQI: 70},
	}
	store.data[domain.TierWarm] = []domain.Reading{
		{Location: "paris", Timestamp: now.Add(-60 * 24 * time.Hour), AQI: 80},
	}
	store.data[domain.TierCold] = []domain.Reading{
		{Location: "paris", Timestamp: now.Add(-400 * 24 * time.Hour), AQI: 90},
	}
	r := storage.NewRouter(store).WithClock(func() time.Time { return now })

	res, err := r.QueryRange(context.Background(), domain.RangeQuery{
		Location: "paris", Start: now.Add(-500 * 24 * time.Hour), End: now,
	})
	require.NoError(t, err)

	assert.True(t, store.queried[domain.TierHot])
	assert.True(t, store.queried[domain.TierWarm])
	assert.True(t, store.queried[domain.TierCold])
	require.Len(t, res.Readings, 3)
	// Merged newest first across tiers.
	assert.Equal(t, 70, res.Readings[0].AQI)
	assert.Equal(t, 80, res.Readings[1].AQI)
	assert.Equal(t, 90, res.Readings[2].AQI)
}

func TestQueryRangeOldWindowSkipsHot(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	r := storage.NewRouter(store).WithClock(func() time.Time { return now })

	_, err := r.QueryRange(context.Background(), domain.RangeQuery{
		Location: "paris",
		Start:    now.Add(-200 * 24 * time.Hour),
		End:      now.Add(-100 * 24 * time.Hour),
	})
	require.NoError(t, err)

	assert.False(t, store.queried[domain.TierHot])
	assert.True(t, store.queried[domain.TierWarm])
	assert.False(t, store.queried[domain.TierCold])
}

func TestQueryRangeLimitTruncatesAfterMerge(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.data[domain.TierHot] = append(store.data[domain.TierHot], domain.Reading{
			Location: "paris", Timestamp: now.Add(-time.Duration(i) * time.Hour), AQI: 50 + i,
		})
	}
	r := storage.NewRouter(store).WithClock(func() time.Time { return now })

	res, err := r.QueryRange(context.Background(), domain.RangeQuery{
		Location: "paris", Start: now.Add(-24 * time.Hour), End: now, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Readings, 2)
	assert.Equal(t, 50, res.Readings[0].AQI, "newest survives truncation")
}

func TestQueryRangeRejectsInvertedWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r := storage.NewRouter(newFakeStore()).WithClock(func() time.Time { return now })

	_, err := r.QueryRange(context.Background(), domain.RangeQuery{
		Location: "paris", Start: now, End: now.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLatestForProbesTiersInOrder(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.data[domain.TierWarm] = []domain.Reading{
		{Location: "paris", Timestamp: now.Add(-40 * 24 * time.Hour), AQI: 85},
	}
	r := storage.NewRouter(store).WithClock(func() time.Time { return now })

	rd, err := r.LatestFor(context.Background(), "paris")
	require.NoError(t, err)
	assert.Equal(t, 85, rd.AQI)

	_, err = r.LatestFor(context.Background(), "lyon")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
