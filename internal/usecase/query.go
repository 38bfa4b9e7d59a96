package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/storage"
)

// Query serves the read API: latest reading, historical ranges and cached
// daily statistics.
type Query struct {
	Router *storage.Router
	Aggs   domain.AggregationRepository
	Cache  domain.Cache

	LatestTTL time.Duration
}

// NewQuery constructs the read-side usecase.
func NewQuery(router *storage.Router, aggs domain.AggregationRepository, cache domain.Cache) *Query {
	return &Query{Router: router, Aggs: aggs, Cache: cache, LatestTTL: time.Minute}
}

// Latest returns the freshest reading for a location, served from cache
// when a fetch stored one within the last minute.
func (q *Query) Latest(ctx domain.Context, location string) (domain.Reading, error) {
	key := "latest:" + location
	if q.Cache != nil {
		var rd domain.Reading
		if hit, err := q.Cache.Get(ctx, key, &rd); err == nil && hit {
			rd.Metadata.Cached = true
			return rd, nil
		}
	}

	rd, err := q.Router.LatestFor(ctx, location)
	if err != nil {
		return domain.Reading{}, err
	}
	if q.Cache != nil {
		if err := q.Cache.Set(ctx, key, rd, q.LatestTTL); err != nil {
			slog.Warn("latest cache write failed", slog.Any("error", err))
		}
	}
	return rd, nil
}

// Range runs a cross-tier historical query.
func (q *Query) Range(ctx domain.Context, rq domain.RangeQuery) (storage.RangeResult, error) {
	if rq.Location == "" {
		return storage.RangeResult{}, fmt.Errorf("op=query.range: location required: %w", domain.ErrInvalidArgument)
	}
	return q.Router.QueryRange(ctx, rq)
}

// DailyStats serves a rollup, cache first.
func (q *Query) DailyStats(ctx domain.Context, location, date string) (domain.DailyAggregation, error) {
	key := fmt.Sprintf("daily-stats:%s:%s", location, date)
	if q.Cache != nil {
		var agg domain.DailyAggregation
		if hit, err := q.Cache.Get(ctx, key, &agg); err == nil && hit {
			return agg, nil
		}
	}

	agg, err := q.Aggs.Get(ctx, location, date)
	if err != nil {
		return domain.DailyAggregation{}, err
	}
	if q.Cache != nil {
		if err := q.Cache.Set(ctx, key, agg, PartialStatsCacheTTL); err != nil {
			slog.Warn("daily stats cache write failed", slog.Any("error", err))
		}
	}
	return agg, nil
}
