package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// DailyStatsCacheTTL bounds how long a finalized rollup may serve from
// cache; partial intraday rollups get the shorter TTL.
const (
	DailyStatsCacheTTL   = 24 * time.Hour
	PartialStatsCacheTTL = time.Hour
)

// Aggregator computes daily rollups from raw readings and derives weekly
// trend summaries from stored rollups.
type Aggregator struct {
	Store domain.ReadingStore
	Repo  domain.AggregationRepository
	Cache domain.Cache

	Timezone *time.Location
	now      func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store domain.ReadingStore, repo domain.AggregationRepository, cache domain.Cache, tz *time.Location) *Aggregator {
	if tz == nil {
		tz = time.UTC
	}
	return &Aggregator{Store: store, Repo: repo, Cache: cache, Timezone: tz, now: time.Now}
}

// WithClock overrides the time source for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Compute builds the rollup for one location-day from the readings alone.
// Exposed separately from Execute so the math is testable without storage.
func (a *Aggregator) Compute(location, date string, readings []domain.Reading) (domain.DailyAggregation, error) {
	if len(readings) == 0 {
		return domain.DailyAggregation{}, fmt.Errorf("op=aggregate.compute location=%s date=%s: no readings: %w",
			location, date, domain.ErrNotFound)
	}

	agg := domain.DailyAggregation{
		Date:              date,
		Location:          location,
		MinAQI:            domain.AQIExtreme{Value: math.MaxInt32},
		LevelDistribution: make(map[domain.Level]int),
		HourlyAverages:    make([]domain.HourlyAverage, 24),
		CalculatedAt:      a.now(),
	}
	for h := range agg.HourlyAverages {
		agg.HourlyAverages[h].Hour = h
	}

	var sumAQI int
	pollutants := make(map[string]int)
	type hourAcc struct {
		aqi, hum       int
		temp, pressure float64
		n              int
	}
	var hours [24]hourAcc

	for _, rd := range readings {
		sumAQI += rd.AQI
		if rd.AQI > agg.MaxAQI.Value {
			agg.MaxAQI = domain.AQIExtreme{Value: rd.AQI, TimeAt: rd.Timestamp}
		}
		if rd.AQI < agg.MinAQI.Value {
			agg.MinAQI = domain.AQIExtreme{Value: rd.AQI, TimeAt: rd.Timestamp}
		}
		pollutants[rd.MainPollutant]++
		agg.LevelDistribution[domain.LevelForAQI(rd.AQI)]++

		h := rd.Timestamp.In(a.Timezone).Hour()
		hours[h].aqi += rd.AQI
		hours[h].temp += rd.Weather.Temperature
		hours[h].hum += rd.Weather.Humidity
		hours[h].pressure += rd.Weather.Pressure
		hours[h].n++
	}

	agg.RecordCount = len(readings)
	agg.AvgAQI = round2(float64(sumAQI) / float64(len(readings)))
	agg.PollutionLevel = domain.LevelForAQI(int(math.Round(agg.AvgAQI)))

	best, bestN := "", -1
	for p, n := range pollutants {
		if n > bestN || (n == bestN && p < best) {
			best, bestN = p, n
		}
	}
	agg.DominantPollutant = best

	for h := 0; h < 24; h++ {
		slot := &agg.HourlyAverages[h]
		slot.Count = hours[h].n
		if hours[h].n == 0 {
			slot.Missing = true
			agg.MissingDataHours = append(agg.MissingDataHours, h)
			continue
		}
		n := float64(hours[h].n)
		slot.AvgAQI = round2(float64(hours[h].aqi) / n)
		slot.AvgTemp = round2(hours[h].temp / n)
		slot.AvgHumidity = round2(float64(hours[h].hum) / n)
		slot.AvgPressure = round2(hours[h].pressure / n)
		if slot.AvgAQI > 150 {
			agg.UnhealthyHours++
		}
	}
	return agg, nil
}

// Execute loads the day's readings, computes the rollup, upserts it and
// refreshes the daily-stats cache entry.
func (a *Aggregator) Execute(ctx domain.Context, p domain.AggregateDailyPayload) error {
	tracer := otel.Tracer("usecase.aggregate")
	ctx, span := tracer.Start(ctx, "aggregate.Execute")
	defer span.End()

	dayStart, err := time.ParseInLocation("2006-01-02", p.Date, a.Timezone)
	if err != nil {
		return fmt.Errorf("op=aggregate.execute date=%s: %w", p.Date, domain.ErrInvalidArgument)
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	readings, err := a.Store.QueryRange(ctx, domain.TierHot, domain.RangeQuery{
		Location: p.Location, Start: dayStart, End: dayEnd,
	})
	if err != nil {
		return err
	}
	agg, err := a.Compute(p.Location, p.Date, readings)
	if err != nil {
		slog.Info("no readings for rollup",
			slog.String("location", p.Location), slog.String("date", p.Date))
		return nil
	}

	// Partial intraday rollups only refresh the cache; the finalize job
	// writes the durable document at end of day.
	if !p.Partial {
		if err := a.Repo.Upsert(ctx, agg); err != nil {
			return err
		}
	}

	if a.Cache != nil {
		ttl := DailyStatsCacheTTL
		if p.Partial {
			ttl = PartialStatsCacheTTL
		}
		key := fmt.Sprintf("daily-stats:%s:%s", p.Location, p.Date)
		if err := a.Cache.Set(ctx, key, agg, ttl); err != nil {
			slog.Warn("daily stats cache write failed", slog.Any("error", err))
		}
	}

	slog.Info("daily rollup stored",
		slog.String("location", p.Location), slog.String("date", p.Date),
		slog.Float64("avg_aqi", agg.AvgAQI), slog.Int("records", agg.RecordCount),
		slog.Bool("partial", p.Partial), slog.String("correlation_id", p.CorrelationID))
	return nil
}

// TrendOf labels a day series by comparing the first and last thirds of the
// window; shifts inside ±5 AQI read as stable.
func TrendOf(days []domain.DailyAggregation) domain.TrendLabel {
	if len(days) < 3 {
		return domain.TrendStable
	}
	third := len(days) / 3
	var early, late float64
	for _, d := range days[:third] {
		early += d.AvgAQI
	}
	for _, d := range days[len(days)-third:] {
		late += d.AvgAQI
	}
	early /= float64(third)
	late /= float64(third)

	switch {
	case late < early-5:
		return domain.TrendImproving
	case late > early+5:
		return domain.TrendWorsening
	default:
		return domain.TrendStable
	}
}

// WeeklySummary derives a seven-day summary ending at the given date.
func (a *Aggregator) WeeklySummary(ctx domain.Context, location, endDate string) (domain.WeeklySummary, error) {
	end, err := time.ParseInLocation("2006-01-02", endDate, a.Timezone)
	if err != nil {
		return domain.WeeklySummary{}, fmt.Errorf("op=aggregate.weekly date=%s: %w", endDate, domain.ErrInvalidArgument)
	}
	start := end.AddDate(0, 0, -6)
	fromDate := start.Format("2006-01-02")

	days, err := a.Repo.Range(ctx, location, fromDate, endDate)
	if err != nil {
		return domain.WeeklySummary{}, err
	}
	if len(days) == 0 {
		return domain.WeeklySummary{}, fmt.Errorf("op=aggregate.weekly location=%s: %w", location, domain.ErrNotFound)
	}

	sum := domain.WeeklySummary{
		Location: location,
		From:     fromDate,
		To:       endDate,
		Trend:    TrendOf(days),
		Days:     len(days),
	}
	var total float64
	for _, d := range days {
		total += d.AvgAQI
		if d.AvgAQI > 150 {
			sum.UnhealthyDays++
		}
	}
	sum.AvgAQI = round2(total / float64(len(days)))
	return sum, nil
}
