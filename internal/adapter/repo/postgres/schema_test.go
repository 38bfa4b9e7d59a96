package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every tier table must reject duplicate (location, ts) rows or the
// migrator's conflict-tolerant re-run silently duplicates readings. The hot
// table declares the constraint inline and the warm table copies it via
// INCLUDING ALL, but the cold table's LIKE clause copies only CHECK
// constraints, so its uniqueness lives in a separate index.
func TestSchemaEnforcesUniqueReadingPerTier(t *testing.T) {
	t.Parallel()

	find := func(substr string) string {
		for _, stmt := range schemaStatements {
			if strings.Contains(stmt, substr) {
				return stmt
			}
		}
		return ""
	}

	hot := find("CREATE TABLE IF NOT EXISTS air_quality_hot")
	require.NotEmpty(t, hot)
	assert.Contains(t, hot, "UNIQUE (location, ts)")

	warm := find("CREATE TABLE IF NOT EXISTS air_quality_warm")
	require.NotEmpty(t, warm)
	assert.Contains(t, warm, "INCLUDING ALL")

	coldIdx := find("idx_cold_location_ts")
	require.NotEmpty(t, coldIdx, "cold tier needs an explicit unique index")
	assert.Contains(t, coldIdx, "CREATE UNIQUE INDEX")
	assert.Contains(t, coldIdx, "ON air_quality_cold (location, ts)")
}
