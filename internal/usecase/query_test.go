package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/storage"
	"github.com/fairyhunter13/air-quality-monitor/internal/usecase"
)

// fakeAggs serves aggregations from memory, keyed location|date.
type fakeAggs struct {
	data map[string]domain.DailyAggregation
	gets int
}

func (a *fakeAggs) Upsert(_ domain.Context, _ domain.DailyAggregation) error { return nil }

func (a *fakeAggs) Get(_ domain.Context, location, date string) (domain.DailyAggregation, error) {
	a.gets++
	if agg, ok := a.data[location+"|"+date]; ok {
		return agg, nil
	}
	return domain.DailyAggregation{}, domain.ErrNotFound
}

func (a *fakeAggs) Range(_ domain.Context, _, _, _ string) ([]domain.DailyAggregation, error) {
	return nil, nil
}

func TestLatestCacheMissThenHit(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.setLatest(domain.TierHot, domain.Reading{
		Location: "paris", AQI: 72, Level: domain.LevelModerate,
		Timestamp: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	})
	cache := newFakeCache()
	q := usecase.NewQuery(storage.NewRouter(store), &fakeAggs{}, cache)
	ctx := context.Background()

	rd, err := q.Latest(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, 72, rd.AQI)
	assert.False(t, rd.Metadata.Cached, "first read comes from the store")

	rd, err = q.Latest(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, 72, rd.AQI)
	assert.True(t, rd.Metadata.Cached, "second read is served from cache")
}

func TestLatestFallsBackToWarmTier(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.setLatest(domain.TierWarm, domain.Reading{Location: "lyon", AQI: 44, Tier: domain.TierWarm})
	q := usecase.NewQuery(storage.NewRouter(store), &fakeAggs{}, nil)

	rd, err := q.Latest(context.Background(), "lyon")
	require.NoError(t, err)
	assert.Equal(t, 44, rd.AQI)
}

func TestLatestUnknownLocation(t *testing.T) {
	t.Parallel()
	q := usecase.NewQuery(storage.NewRouter(newFakeStore()), &fakeAggs{}, nil)
	_, err := q.Latest(context.Background(), "atlantis")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRangeRequiresLocation(t *testing.T) {
	t.Parallel()
	q := usecase.NewQuery(storage.NewRouter(newFakeStore()), &fakeAggs{}, nil)
	_, err := q.Range(context.Background(), domain.RangeQuery{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDailyStatsCacheFirst(t *testing.T) {
	t.Parallel()
	aggs := &fakeAggs{data: map[string]domain.DailyAggregation{
		"paris|2026-08-24": {Location: "paris", Date: "2026-08-24", AvgAQI: 61.5},
	}}
	cache := newFakeCache()
	q := usecase.NewQuery(storage.NewRouter(newFakeStore()), aggs, cache)
	ctx := context.Background()

	got, err := q.DailyStats(ctx, "paris", "2026-08-24")
	require.NoError(t, err)
	assert.InDelta(t, 61.5, got.AvgAQI, 1e-9)
	assert.Equal(t, 1, aggs.gets)

	_, err = q.DailyStats(ctx, "paris", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, 1, aggs.gets, "repeat read never touches the repository")
}

func TestDailyStatsUnknownDate(t *testing.T) {
	t.Parallel()
	q := usecase.NewQuery(storage.NewRouter(newFakeStore()), &fakeAggs{}, nil)
	_, err := q.DailyStats(context.Background(), "paris", "1999-01-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
