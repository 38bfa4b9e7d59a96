package postgres

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// CleanupStats summarizes one weekly maintenance run.
type CleanupStats struct {
	AlertsDeleted int64 `json:"alertsDeleted"`
	ColdDeleted   int64 `json:"coldDeleted"`
}

// Cleaner prunes storage past retention. Alert records go after the
// configured retention window; cold-tier readings are kept indefinitely
// unless a cold retention is set.
type Cleaner struct {
	Alerts   domain.AlertRepository
	Readings domain.ReadingStore

	AlertRetention time.Duration
	ColdRetention  time.Duration // zero means keep forever
}

// Run executes one cleanup pass relative to now.
func (c *Cleaner) Run(ctx domain.Context, now time.Time) (CleanupStats, error) {
	var stats CleanupStats

	n, err := c.Alerts.DeleteOlderThan(ctx, now.Add(-c.AlertRetention))
	if err != nil {
		return stats, err
	}
	stats.AlertsDeleted = n

	if c.ColdRetention > 0 {
		cutoff := now.Add(-c.ColdRetention)
		for {
			batch, err := c.Readings.OlderThan(ctx, domain.TierCold, cutoff, 500)
			if err != nil {
				return stats, err
			}
			if len(batch) == 0 {
				break
			}
			for _, rd := range batch {
				if err := c.Readings.Delete(ctx, domain.TierCold, rd.Location, rd.Timestamp); err != nil {
					return stats, err
				}
				stats.ColdDeleted++
			}
			if len(batch) < 500 {
				break
			}
		}
	}

	slog.Info("storage cleanup finished",
		slog.Int64("alerts_deleted", stats.AlertsDeleted),
		slog.Int64("cold_deleted", stats.ColdDeleted))
	return stats, nil
}
