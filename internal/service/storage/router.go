// Package storage routes reads across the hot, warm and cold tiers.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// RangeResult is a cross-tier query result with per-tier provenance.
type RangeResult struct {
	Readings        []domain.Reading    `json:"readings"`
	Sources         map[domain.Tier]int `json:"sources"`
	ExecutionTimeMs int64               `json:"executionTimeMs"`
}

// Router fans a time-range query out to the tiers it overlaps and merges
// the partial results, newest first.
type Router struct {
	Store domain.ReadingStore

	now func() time.Time
}

// NewRouter constructs a Router over the tiered store.
func NewRouter(store domain.ReadingStore) *Router {
	return &Router{Store: store, now: time.Now}
}

// WithClock overrides the time source for tests.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// tiersFor returns the tiers a [start, end) window overlaps given the hot
// and warm age boundaries.
func (r *Router) tiersFor(start, end time.Time) []domain.Tier {
	now := r.now()
	hotFloor := now.Add(-domain.HotMaxAge)
	warmFloor := now.Add(-domain.WarmMaxAge)

	if end.IsZero() {
		end = now
	}
	var tiers []domain.Tier
	if end.After(hotFloor) {
		tiers = append(tiers, domain.TierHot)
	}
	if start.Before(hotFloor) && end.After(warmFloor) {
		tiers = append(tiers, domain.TierWarm)
	}
	if start.Before(warmFloor) {
		tiers = append(tiers, domain.TierCold)
	}
	return tiers
}

// QueryRange executes the query against every overlapping tier in parallel
// and merges the results descending by timestamp, truncated to the limit.
func (r *Router) QueryRange(ctx domain.Context, q domain.RangeQuery) (RangeResult, error) {
	started := r.now()
	if q.Start.IsZero() {
		q.Start = started.Add(-domain.WarmMaxAge * 2)
	}
	if !q.End.IsZero() && !q.End.After(q.Start) {
		return RangeResult{}, fmt.Errorf("op=storage.query_range: end before start: %w", domain.ErrInvalidArgument)
	}

	tiers := r.tiersFor(q.Start, q.End)
	res := RangeResult{Sources: make(map[domain.Tier]int, len(tiers))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range tiers {
		g.Go(func() error {
			part, err := r.Store.QueryRange(gctx, tier, q)
			if err != nil {
				return fmt.Errorf("tier=%s: %w", tier, err)
			}
			mu.Lock()
			res.Sources[tier] = len(part)
			res.Readings = append(res.Readings, part...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RangeResult{}, fmt.Errorf("op=storage.query_range: %w", err)
	}

	sort.Slice(res.Readings, func(i, j int) bool {
		return res.Readings[i].Timestamp.After(res.Readings[j].Timestamp)
	})
	if q.Limit > 0 && len(res.Readings) > q.Limit {
		res.Readings = res.Readings[:q.Limit]
	}
	res.ExecutionTimeMs = time.Since(started).Milliseconds()
	return res, nil
}

// LatestFor probes the tiers newest-first and returns the first reading
// found for the location.
func (r *Router) LatestFor(ctx domain.Context, location string) (domain.Reading, error) {
	for _, tier := range []domain.Tier{domain.TierHot, domain.TierWarm, domain.TierCold} {
		rd, err := r.Store.Latest(ctx, tier, location)
		if err == nil {
			return rd, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Reading{}, err
		}
	}
	return domain.Reading{}, fmt.Errorf("op=storage.latest location=%s: %w", location, domain.ErrNotFound)
}
