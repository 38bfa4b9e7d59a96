package postgres

import (
	"context"
	"fmt"
)

// Schema for the tiered reading tables and rollup documents. Index density
// decreases with tier age: hot carries the compound, geo and pollution
// indexes, warm keeps the compound index, cold only the timestamp scan.
// The warm tier's 365-day retention is enforced by the warm->cold migration
// job rather than a TTL index.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS air_quality_hot (
		id UUID PRIMARY KEY,
		location TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		aqi INTEGER NOT NULL CHECK (aqi BETWEEN 0 AND 500),
		main_pollutant TEXT NOT NULL,
		level TEXT NOT NULL,
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		humidity INTEGER NOT NULL DEFAULT 0,
		pressure DOUBLE PRECISION NOT NULL DEFAULT 0,
		wind_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
		wind_direction INTEGER NOT NULL DEFAULT 0,
		api_response_ms BIGINT NOT NULL DEFAULT 0,
		cached BOOLEAN NOT NULL DEFAULT FALSE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (location, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hot_location_ts ON air_quality_hot (location, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_hot_geo ON air_quality_hot (lat, lon)`,
	`CREATE INDEX IF NOT EXISTS idx_hot_polluted ON air_quality_hot (aqi) WHERE aqi >= 100`,

	`CREATE TABLE IF NOT EXISTS air_quality_warm (
		LIKE air_quality_hot INCLUDING ALL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_warm_location_ts ON air_quality_warm (location, ts DESC)`,

	// LIKE ... INCLUDING CONSTRAINTS copies only CHECK constraints, not the
	// (location, ts) uniqueness, so the cold tier declares it explicitly.
	// The migrator's conflict-tolerant re-run depends on duplicate inserts
	// failing here.
	`CREATE TABLE IF NOT EXISTS air_quality_cold (
		LIKE air_quality_hot INCLUDING DEFAULTS INCLUDING CONSTRAINTS
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_cold_location_ts ON air_quality_cold (location, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_cold_ts ON air_quality_cold (ts DESC)`,

	`CREATE TABLE IF NOT EXISTS daily_aggregations (
		date TEXT NOT NULL,
		location TEXT NOT NULL,
		avg_aqi DOUBLE PRECISION NOT NULL,
		max_aqi INTEGER NOT NULL,
		max_at TIMESTAMPTZ NOT NULL,
		min_aqi INTEGER NOT NULL,
		min_at TIMESTAMPTZ NOT NULL,
		dominant_pollutant TEXT NOT NULL,
		pollution_level TEXT NOT NULL,
		level_distribution JSONB NOT NULL DEFAULT '{}',
		hourly_averages JSONB NOT NULL DEFAULT '[]',
		missing_hours JSONB NOT NULL DEFAULT '[]',
		unhealthy_hours INTEGER NOT NULL DEFAULT 0,
		record_count INTEGER NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (date, location)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_polluted ON daily_aggregations (avg_aqi) WHERE avg_aqi >= 100`,

	`CREATE TABLE IF NOT EXISTS alert_records (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		triggered_at TIMESTAMPTZ NOT NULL,
		throttle_key TEXT NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TIMESTAMPTZ,
		escalated BOOLEAN NOT NULL DEFAULT FALSE,
		recipients TEXT[] NOT NULL DEFAULT '{}',
		email_delivery_id TEXT NOT NULL DEFAULT '',
		email_sent BOOLEAN NOT NULL DEFAULT FALSE,
		email_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_active ON alert_records (triggered_at DESC) WHERE acknowledged = FALSE`,
}

// EnsureSchema creates tables and indexes if missing. Run once at boot.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
