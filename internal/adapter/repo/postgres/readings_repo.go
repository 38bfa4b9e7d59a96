package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

const pgUniqueViolation = "23505"

// ReadingRepo persists readings across the three tier tables.
type ReadingRepo struct{ Pool PgxPool }

// NewReadingRepo constructs a ReadingRepo with the given pool.
func NewReadingRepo(p PgxPool) *ReadingRepo { return &ReadingRepo{Pool: p} }

func tableFor(tier domain.Tier) (string, error) {
	switch tier {
	case domain.TierHot:
		return "air_quality_hot", nil
	case domain.TierWarm:
		return "air_quality_warm", nil
	case domain.TierCold:
		return "air_quality_cold", nil
	default:
		return "", fmt.Errorf("unknown tier %q: %w", tier, domain.ErrInvalidArgument)
	}
}

const readingCols = `id, location, ts, lat, lon, aqi, main_pollutant, level,
	temperature, humidity, pressure, wind_speed, wind_direction,
	api_response_ms, cached, retry_count`

// Insert writes one reading into the tier's table. A duplicate
// (location, timestamp) maps to ErrConflict.
func (r *ReadingRepo) Insert(ctx domain.Context, tier domain.Tier, rd domain.Reading) (string, error) {
	tracer := otel.Tracer("repo.readings")
	ctx, span := tracer.Start(ctx, "readings.Insert")
	defer span.End()

	table, err := tableFor(tier)
	if err != nil {
		return "", err
	}
	if err := rd.Validate(); err != nil {
		return "", fmt.Errorf("op=readings.insert: %w", err)
	}
	id := rd.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO ` + table + ` (` + readingCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = r.Pool.Exec(ctx, q, id, rd.Location, rd.Timestamp.UTC(),
		rd.Coordinates.Lat, rd.Coordinates.Lon, rd.AQI, rd.MainPollutant, rd.Level,
		rd.Weather.Temperature, rd.Weather.Humidity, rd.Weather.Pressure,
		rd.Weather.WindSpeed, rd.Weather.WindDirection,
		rd.Metadata.APIResponseTimeMs, rd.Metadata.Cached, rd.Metadata.RetryCount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", fmt.Errorf("op=readings.insert tier=%s: %w", tier, domain.ErrConflict)
		}
		return "", fmt.Errorf("op=readings.insert tier=%s: %w", tier, err)
	}
	return id, nil
}

func scanReading(row pgx.Row, tier domain.Tier) (domain.Reading, error) {
	var rd domain.Reading
	err := row.Scan(&rd.ID, &rd.Location, &rd.Timestamp,
		&rd.Coordinates.Lat, &rd.Coordinates.Lon, &rd.AQI, &rd.MainPollutant, &rd.Level,
		&rd.Weather.Temperature, &rd.Weather.Humidity, &rd.Weather.Pressure,
		&rd.Weather.WindSpeed, &rd.Weather.WindDirection,
		&rd.Metadata.APIResponseTimeMs, &rd.Metadata.Cached, &rd.Metadata.RetryCount)
	if err != nil {
		return domain.Reading{}, err
	}
	rd.Tier = tier
	return rd, nil
}

// QueryRange scans a tier for readings matching the filter, newest first.
func (r *ReadingRepo) QueryRange(ctx domain.Context, tier domain.Tier, q domain.RangeQuery) ([]domain.Reading, error) {
	tracer := otel.Tracer("repo.readings")
	ctx, span := tracer.Start(ctx, "readings.QueryRange")
	defer span.End()

	table, err := tableFor(tier)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + readingCols + ` FROM ` + table + ` WHERE 1=1`)
	args := make([]any, 0, 5)
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.Location != "" {
		add(" AND location=$%d", q.Location)
	}
	if !q.Start.IsZero() {
		add(" AND ts >= $%d", q.Start.UTC())
	}
	if !q.End.IsZero() {
		add(" AND ts < $%d", q.End.UTC())
	}
	if q.MinAQI > 0 {
		add(" AND aqi >= $%d", q.MinAQI)
	}
	sb.WriteString(" ORDER BY ts DESC")
	if q.Limit > 0 {
		add(" LIMIT $%d", q.Limit)
	}

	rows, err := r.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("op=readings.query_range tier=%s: %w", tier, err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		rd, err := scanReading(rows, tier)
		if err != nil {
			return nil, fmt.Errorf("op=readings.query_range tier=%s: %w", tier, err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// Latest returns the most recent reading for a location in one tier.
func (r *ReadingRepo) Latest(ctx domain.Context, tier domain.Tier, location string) (domain.Reading, error) {
	tracer := otel.Tracer("repo.readings")
	ctx, span := tracer.Start(ctx, "readings.Latest")
	defer span.End()

	table, err := tableFor(tier)
	if err != nil {
		return domain.Reading{}, err
	}
	q := `SELECT ` + readingCols + ` FROM ` + table + ` WHERE location=$1 ORDER BY ts DESC LIMIT 1`
	rd, err := scanReading(r.Pool.QueryRow(ctx, q, location), tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reading{}, fmt.Errorf("op=readings.latest tier=%s: %w", tier, domain.ErrNotFound)
		}
		return domain.Reading{}, fmt.Errorf("op=readings.latest tier=%s: %w", tier, err)
	}
	return rd, nil
}

// OlderThan streams up to limit readings strictly below the cutoff, oldest
// first, for migration batches.
func (r *ReadingRepo) OlderThan(ctx domain.Context, tier domain.Tier, cutoff time.Time, limit int) ([]domain.Reading, error) {
	tracer := otel.Tracer("repo.readings")
	ctx, span := tracer.Start(ctx, "readings.OlderThan")
	defer span.End()

	table, err := tableFor(tier)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + readingCols + ` FROM ` + table + ` WHERE ts < $1 ORDER BY ts ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("op=readings.older_than tier=%s: %w", tier, err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		rd, err := scanReading(rows, tier)
		if err != nil {
			return nil, fmt.Errorf("op=readings.older_than tier=%s: %w", tier, err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// Delete removes one reading by its (location, timestamp) identity.
func (r *ReadingRepo) Delete(ctx domain.Context, tier domain.Tier, location string, ts time.Time) error {
	tracer := otel.Tracer("repo.readings")
	ctx, span := tracer.Start(ctx, "readings.Delete")
	defer span.End()

	table, err := tableFor(tier)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, `DELETE FROM `+table+` WHERE location=$1 AND ts=$2`, location, ts.UTC())
	if err != nil {
		return fmt.Errorf("op=readings.delete tier=%s: %w", tier, err)
	}
	return nil
}

// Count returns the number of readings in one tier.
func (r *ReadingRepo) Count(ctx domain.Context, tier domain.Tier) (int64, error) {
	table, err := tableFor(tier)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=readings.count tier=%s: %w", tier, err)
	}
	return n, nil
}
