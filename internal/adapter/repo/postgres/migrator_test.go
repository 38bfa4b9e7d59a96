package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// memStore exercises the migrator without a database. Insert failures can be
// injected per (tier, location).
type memStore struct {
	data       map[domain.Tier][]domain.Reading
	failInsert map[string]error // "tier/location" -> err
	seq        int
}

func newMemStore() *memStore {
	return &memStore{
		data:       make(map[domain.Tier][]domain.Reading),
		failInsert: make(map[string]error),
	}
}

func (s *memStore) Insert(_ domain.Context, tier domain.Tier, r domain.Reading) (string, error) {
	if err, ok := s.failInsert[string(tier)+"/"+r.Location]; ok {
		return "", err
	}
	for _, existing := range s.data[tier] {
		if existing.Location == r.Location && existing.Timestamp.Equal(r.Timestamp) {
			return "", domain.ErrConflict
		}
	}
	s.seq++
	r.ID = fmt.Sprintf("id-%d", s.seq)
	s.data[tier] = append(s.data[tier], r)
	return r.ID, nil
}

func (s *memStore) QueryRange(_ domain.Context, tier domain.Tier, _ domain.RangeQuery) ([]domain.Reading, error) {
	return s.data[tier], nil
}

func (s *memStore) Latest(_ domain.Context, _ domain.Tier, _ string) (domain.Reading, error) {
	return domain.Reading{}, domain.ErrNotFound
}

func (s *memStore) OlderThan(_ domain.Context, tier domain.Tier, cutoff time.Time, limit int) ([]domain.Reading, error) {
	var out []domain.Reading
	for _, r := range s.data[tier] {
		if r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ domain.Context, tier domain.Tier, location string, ts time.Time) error {
	kept := s.data[tier][:0]
	for _, r := range s.data[tier] {
		if r.Location == location && r.Timestamp.Equal(ts) {
			continue
		}
		kept = append(kept, r)
	}
	s.data[tier] = kept
	return nil
}

func (s *memStore) Count(_ domain.Context, tier domain.Tier) (int64, error) {
	return int64(len(s.data[tier])), nil
}

func seedReadings(s *memStore, tier domain.Tier, location string, base time.Time, n int) {
	for i := 0; i < n; i++ {
		s.data[tier] = append(s.data[tier], domain.Reading{
			ID:          fmt.Sprintf("seed-%s-%d", location, i),
			Location:    location,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Coordinates: domain.Coordinates{Lat: 48.85, Lon: 2.35},
			AQI:         60,
			Level:       domain.LevelModerate,
			Tier:        tier,
		})
	}
}

func TestMigrateMovesOldReadings(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedReadings(store, domain.TierHot, "paris", now.Add(-40*24*time.Hour), 7)
	seedReadings(store, domain.TierHot, "fresh", now.Add(-time.Hour), 2)

	m := postgres.NewMigrator(store, 3)
	stats, err := m.Migrate(context.Background(), domain.TierHot, domain.TierWarm, now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Migrated)
	assert.Equal(t, 7, stats.Deleted)
	assert.Zero(t, stats.Errors)
	assert.Len(t, store.data[domain.TierWarm], 7)
	assert.Len(t, store.data[domain.TierHot], 2, "recent readings stay in hot")
	for _, r := range store.data[domain.TierWarm] {
		assert.Equal(t, domain.TierWarm, r.Tier)
		assert.NotContains(t, r.ID, "seed-", "target assigns a new identity")
	}
}

func TestMigrateInsertFailureLeavesSourceIntact(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedReadings(store, domain.TierHot, "paris", now.Add(-40*24*time.Hour), 2)
	seedReadings(store, domain.TierHot, "lyon", now.Add(-40*24*time.Hour), 2)
	store.failInsert["warm/lyon"] = errors.New("connection reset")

	m := postgres.NewMigrator(store, 10)
	stats, err := m.Migrate(context.Background(), domain.TierHot, domain.TierWarm, now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Migrated)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 2, stats.Errors)
	assert.Len(t, store.data[domain.TierWarm], 2)
	// Failed records stay where they were for the next run.
	assert.Len(t, store.data[domain.TierHot], 2)
	for _, r := range store.data[domain.TierHot] {
		assert.Equal(t, "lyon", r.Location)
	}
}

func TestMigrateConflictStillDeletesSource(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedReadings(store, domain.TierHot, "paris", now.Add(-40*24*time.Hour), 1)
	// Target already holds the same (location, timestamp) from an
	// interrupted earlier run.
	seedReadings(store, domain.TierWarm, "paris", now.Add(-40*24*time.Hour), 1)

	m := postgres.NewMigrator(store, 10)
	stats, err := m.Migrate(context.Background(), domain.TierHot, domain.TierWarm, now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	assert.Zero(t, stats.Migrated)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, stats.Errors)
	assert.Empty(t, store.data[domain.TierHot])
	assert.Len(t, store.data[domain.TierWarm], 1)
}

func TestMigrateNothingToDo(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	m := postgres.NewMigrator(store, 10)
	stats, err := m.Migrate(context.Background(), domain.TierHot, domain.TierWarm, time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.Migrated)
}

func TestCleanerPrunesOldAlerts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	repo := &memAlertStore{alerts: map[string]time.Time{
		"old":    now.Add(-100 * 24 * time.Hour),
		"recent": now.Add(-10 * 24 * time.Hour),
	}}
	c := &postgres.Cleaner{
		Alerts:         repo,
		Readings:       newMemStore(),
		AlertRetention: 90 * 24 * time.Hour,
	}

	stats, err := c.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AlertsDeleted)
	assert.Zero(t, stats.ColdDeleted)
}

// memAlertStore implements just enough of AlertRepository for the cleaner.
type memAlertStore struct {
	alerts map[string]time.Time
}

func (s *memAlertStore) Create(domain.Context, domain.AlertRecord) (string, error) {
	return "", domain.ErrInternal
}

func (s *memAlertStore) Get(domain.Context, string) (domain.AlertRecord, error) {
	return domain.AlertRecord{}, domain.ErrNotFound
}

func (s *memAlertStore) MarkDelivery(domain.Context, string, string, bool, string) error {
	return domain.ErrInternal
}

func (s *memAlertStore) Acknowledge(domain.Context, string, string, time.Time) error {
	return domain.ErrInternal
}

func (s *memAlertStore) ListActive(domain.Context, int) ([]domain.AlertRecord, error) {
	return nil, nil
}

func (s *memAlertStore) DeleteOlderThan(_ domain.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, at := range s.alerts {
		if at.Before(cutoff) {
			delete(s.alerts, id)
			n++
		}
	}
	return n, nil
}
