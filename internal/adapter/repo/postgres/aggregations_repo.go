package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// AggregationRepo stores daily rollups, unique on (date, location).
type AggregationRepo struct{ Pool PgxPool }

// NewAggregationRepo constructs an AggregationRepo with the given pool.
func NewAggregationRepo(p PgxPool) *AggregationRepo { return &AggregationRepo{Pool: p} }

// Upsert writes the rollup; recomputation overwrites, so the operation is
// idempotent per (date, location).
func (r *AggregationRepo) Upsert(ctx domain.Context, a domain.DailyAggregation) error {
	tracer := otel.Tracer("repo.aggregations")
	ctx, span := tracer.Start(ctx, "aggregations.Upsert")
	defer span.End()

	levels, err := json.Marshal(a.LevelDistribution)
	if err != nil {
		return fmt.Errorf("op=aggregations.upsert: %w", err)
	}
	hourly, err := json.Marshal(a.HourlyAverages)
	if err != nil {
		return fmt.Errorf("op=aggregations.upsert: %w", err)
	}
	missing, err := json.Marshal(a.MissingDataHours)
	if err != nil {
		return fmt.Errorf("op=aggregations.upsert: %w", err)
	}

	q := `INSERT INTO daily_aggregations
		(date, location, avg_aqi, max_aqi, max_at, min_aqi, min_at,
		 dominant_pollutant, pollution_level, level_distribution,
		 hourly_averages, missing_hours, unhealthy_hours, record_count, calculated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (date, location) DO UPDATE SET
		 avg_aqi = EXCLUDED.avg_aqi,
		 max_aqi = EXCLUDED.max_aqi,
		 max_at = EXCLUDED.max_at,
		 min_aqi = EXCLUDED.min_aqi,
		 min_at = EXCLUDED.min_at,
		 dominant_pollutant = EXCLUDED.dominant_pollutant,
		 pollution_level = EXCLUDED.pollution_level,
		 level_distribution = EXCLUDED.level_distribution,
		 hourly_averages = EXCLUDED.hourly_averages,
		 missing_hours = EXCLUDED.missing_hours,
		 unhealthy_hours = EXCLUDED.unhealthy_hours,
		 record_count = EXCLUDED.record_count,
		 calculated_at = EXCLUDED.calculated_at`
	_, err = r.Pool.Exec(ctx, q, a.Date, a.Location, a.AvgAQI,
		a.MaxAQI.Value, a.MaxAQI.TimeAt.UTC(), a.MinAQI.Value, a.MinAQI.TimeAt.UTC(),
		a.DominantPollutant, a.PollutionLevel, levels, hourly, missing,
		a.UnhealthyHours, a.RecordCount, a.CalculatedAt.UTC())
	if err != nil {
		return fmt.Errorf("op=aggregations.upsert: %w", err)
	}
	return nil
}

func scanAggregation(row pgx.Row) (domain.DailyAggregation, error) {
	var a domain.DailyAggregation
	var levels, hourly, missing []byte
	err := row.Scan(&a.Date, &a.Location, &a.AvgAQI,
		&a.MaxAQI.Value, &a.MaxAQI.TimeAt, &a.MinAQI.Value, &a.MinAQI.TimeAt,
		&a.DominantPollutant, &a.PollutionLevel, &levels, &hourly, &missing,
		&a.UnhealthyHours, &a.RecordCount, &a.CalculatedAt)
	if err != nil {
		return domain.DailyAggregation{}, err
	}
	if err := json.Unmarshal(levels, &a.LevelDistribution); err != nil {
		return domain.DailyAggregation{}, err
	}
	if err := json.Unmarshal(hourly, &a.HourlyAverages); err != nil {
		return domain.DailyAggregation{}, err
	}
	if err := json.Unmarshal(missing, &a.MissingDataHours); err != nil {
		return domain.DailyAggregation{}, err
	}
	return a, nil
}

const aggCols = `date, location, avg_aqi, max_aqi, max_at, min_aqi, min_at,
	dominant_pollutant, pollution_level, level_distribution,
	hourly_averages, missing_hours, unhealthy_hours, record_count, calculated_at`

// Get loads one rollup.
func (r *AggregationRepo) Get(ctx domain.Context, location, date string) (domain.DailyAggregation, error) {
	tracer := otel.Tracer("repo.aggregations")
	ctx, span := tracer.Start(ctx, "aggregations.Get")
	defer span.End()

	q := `SELECT ` + aggCols + ` FROM daily_aggregations WHERE location=$1 AND date=$2`
	a, err := scanAggregation(r.Pool.QueryRow(ctx, q, location, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyAggregation{}, fmt.Errorf("op=aggregations.get: %w", domain.ErrNotFound)
		}
		return domain.DailyAggregation{}, fmt.Errorf("op=aggregations.get: %w", err)
	}
	return a, nil
}

// Range loads rollups for a location between two dates, ascending.
func (r *AggregationRepo) Range(ctx domain.Context, location, fromDate, toDate string) ([]domain.DailyAggregation, error) {
	tracer := otel.Tracer("repo.aggregations")
	ctx, span := tracer.Start(ctx, "aggregations.Range")
	defer span.End()

	q := `SELECT ` + aggCols + ` FROM daily_aggregations
		WHERE location=$1 AND date >= $2 AND date <= $3 ORDER BY date ASC`
	rows, err := r.Pool.Query(ctx, q, location, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("op=aggregations.range: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyAggregation
	for rows.Next() {
		a, err := scanAggregation(rows)
		if err != nil {
			return nil, fmt.Errorf("op=aggregations.range: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
