// Package usecase wires the domain operations behind the job handlers and
// the HTTP read API.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/upstream/iqair"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
	"github.com/fairyhunter13/air-quality-monitor/internal/service/alerts"
)

// Fetcher pulls one reading from the upstream API, persists it into the hot
// tier, runs pollution alerting and requests a partial rollup for the day.
type Fetcher struct {
	Upstream *iqair.Client
	Store    domain.ReadingStore
	Cache    domain.Cache
	Queue    domain.Queue
	Alerts   *alerts.Engine

	Timezone *time.Location
}

// NewFetcher constructs a Fetcher. tz is the location's civil timezone used
// for day bucketing.
func NewFetcher(up *iqair.Client, store domain.ReadingStore, cache domain.Cache, q domain.Queue, eng *alerts.Engine, tz *time.Location) *Fetcher {
	if tz == nil {
		tz = time.UTC
	}
	return &Fetcher{Upstream: up, Store: store, Cache: cache, Queue: q, Alerts: eng, Timezone: tz}
}

// Execute runs one fetch cycle for the payload's location.
func (f *Fetcher) Execute(ctx domain.Context, p domain.FetchPayload) error {
	tracer := otel.Tracer("usecase.fetch")
	ctx, span := tracer.Start(ctx, "fetch.Execute")
	defer span.End()

	// The client records the terminal fetch metrics; this layer only folds
	// the outcome into the failure-streak alert.
	res, err := f.Upstream.Fetch(ctx, iqair.Location{
		Name: p.Location, City: p.City, State: p.State, Country: p.Country,
	})
	if err != nil {
		f.Alerts.ObserveFetchOutcome(ctx, false, p.CorrelationID, err.Error())
		if errors.Is(err, domain.ErrCircuitOpen) {
			slog.Warn("fetch skipped, circuit open",
				slog.String("location", p.Location), slog.String("correlation_id", p.CorrelationID))
			return nil
		}
		return fmt.Errorf("op=fetch.execute location=%s: %w", p.Location, err)
	}
	f.Alerts.ObserveFetchOutcome(ctx, true, p.CorrelationID, "")

	rd := res.Reading
	if rd.Location == "" {
		rd.Location = p.Location
	}
	if _, err := f.Store.Insert(ctx, domain.TierHot, rd); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Same (location, minute) already stored; nothing new to do.
			slog.Debug("duplicate reading skipped",
				slog.String("location", rd.Location), slog.Time("ts", rd.Timestamp))
			return nil
		}
		return fmt.Errorf("op=fetch.execute location=%s: %w", p.Location, err)
	}

	f.Alerts.ObservePollution(ctx, rd, p.CorrelationID)

	if f.Cache != nil {
		if err := f.Cache.Invalidate(ctx, "latest:"+rd.Location); err != nil {
			slog.Warn("cache invalidation failed", slog.Any("error", err))
		}
	}

	date := rd.Timestamp.In(f.Timezone).Format("2006-01-02")
	_, err = f.Queue.Enqueue(ctx, domain.AggregateDailyPayload{
		Location: rd.Location, Date: date, Partial: true, CorrelationID: p.CorrelationID,
	}, domain.EnqueueOptions{
		Queue:       domain.QueueAggregation,
		Priority:    domain.PriorityLow,
		MaxAttempts: 3,
		DedupeKey:   fmt.Sprintf("agg-%s-%s-%d", rd.Location, date, rd.Timestamp.Unix()/3600),
	})
	if err != nil && !errors.Is(err, domain.ErrDedupeSuppressed) {
		slog.Error("aggregation enqueue failed",
			slog.String("location", rd.Location), slog.String("date", date), slog.Any("error", err))
	}

	slog.Info("reading stored",
		slog.String("location", rd.Location), slog.Int("aqi", rd.AQI),
		slog.String("level", string(rd.Level)), slog.Int("retries", res.Retries),
		slog.String("correlation_id", p.CorrelationID))
	return nil
}
