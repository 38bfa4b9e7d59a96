package postgres

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// MigrationStats summarizes one migration run.
type MigrationStats struct {
	Migrated int `json:"migrated"`
	Deleted  int `json:"deleted"`
	Errors   int `json:"errors"`
}

// Migrator moves readings between tiers on age policy. Each record moves as
// INSERT-into-target then DELETE-from-source; a failed insert leaves the
// source row untouched, so a record is never lost and never lives in two
// tiers past a completed step.
type Migrator struct {
	Readings  domain.ReadingStore
	BatchSize int
}

// NewMigrator constructs a Migrator over the tiered store.
func NewMigrator(readings domain.ReadingStore, batchSize int) *Migrator {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Migrator{Readings: readings, BatchSize: batchSize}
}

// Migrate drains all readings older than cutoff from one tier to the next,
// batch by batch, until the source is exhausted or the context ends.
func (m *Migrator) Migrate(ctx domain.Context, from, to domain.Tier, cutoff time.Time) (MigrationStats, error) {
	tracer := otel.Tracer("repo.migrator")
	ctx, span := tracer.Start(ctx, "migrator.Migrate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tier.from", string(from)),
		attribute.String("tier.to", string(to)),
	)

	var stats MigrationStats
	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		batch, err := m.Readings.OlderThan(ctx, from, cutoff, m.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			break
		}
		for _, rd := range batch {
			moved := rd
			moved.ID = "" // target generates a new identity
			moved.Tier = to
			if _, err := m.Readings.Insert(ctx, to, moved); err != nil {
				// A conflict means a previous run already copied this row;
				// fall through to the delete so the move completes.
				if !errors.Is(err, domain.ErrConflict) {
					stats.Errors++
					observability.MigrationErrorsTotal.WithLabelValues(string(from), string(to)).Inc()
					slog.Error("migration insert failed",
						slog.String("from", string(from)), slog.String("to", string(to)),
						slog.String("location", rd.Location), slog.Time("ts", rd.Timestamp),
						slog.Any("error", err))
					continue
				}
			} else {
				stats.Migrated++
			}
			if err := m.Readings.Delete(ctx, from, rd.Location, rd.Timestamp); err != nil {
				stats.Errors++
				observability.MigrationErrorsTotal.WithLabelValues(string(from), string(to)).Inc()
				slog.Error("migration delete failed",
					slog.String("from", string(from)), slog.String("to", string(to)),
					slog.String("location", rd.Location), slog.Any("error", err))
				continue
			}
			stats.Deleted++
			observability.ReadingsMigratedTotal.WithLabelValues(string(from), string(to)).Inc()
		}
		if len(batch) < m.BatchSize {
			break
		}
	}

	slog.Info("tier migration finished",
		slog.String("from", string(from)), slog.String("to", string(to)),
		slog.Int("migrated", stats.Migrated), slog.Int("deleted", stats.Deleted),
		slog.Int("errors", stats.Errors))
	return stats, nil
}
