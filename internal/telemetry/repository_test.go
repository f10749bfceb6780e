package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(fan int, speed uint8) *Snapshot {
	return &Snapshot{
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fan:         fan,
		FanSpeed:    FanMetrics{Current: speed, Target: 60},
		Temperature: TempMetrics{Current: 71, Smoothed: 68},
		PowerLimit:  PowerMetrics{Current: 0, Target: 0},
		State:       StateMetrics{Overridden: fan == 1},
		DelayMS:     1733,
	}
}

func countSamples(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fan_samples").Scan(&count))
	return count
}

func TestRepositoryBatchesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	repo, err := NewRepository(Config{DBPath: path, BatchSize: 2}, logger.New("test"))
	require.NoError(t, err)

	require.NoError(t, repo.Record(testSnapshot(0, 40)))
	assert.Equal(t, 0, countSamples(t, path))

	require.NoError(t, repo.Record(testSnapshot(1, 45)))
	assert.Equal(t, 2, countSamples(t, path))

	require.NoError(t, repo.Record(testSnapshot(0, 50)))
	require.NoError(t, repo.Close())
	assert.Equal(t, 3, countSamples(t, path))

	// closing twice is harmless
	require.NoError(t, repo.Close())
}

func TestRepositoryStoresSnapshotFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	repo, err := NewRepository(Config{DBPath: path, BatchSize: 1}, logger.New("test"))
	require.NoError(t, err)
	require.NoError(t, repo.Record(testSnapshot(1, 55)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var fan, speed, target, temp, smoothed, overridden, delay int
	err = db.QueryRow(`
		SELECT fan, fan_speed_current, fan_speed_target, temp_current, temp_smoothed, overridden, delay_ms
		FROM fan_samples`).Scan(&fan, &speed, &target, &temp, &smoothed, &overridden, &delay)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 55, 60, 71, 68, 1, 1733}, []int{fan, speed, target, temp, smoothed, overridden, delay})
}

func TestRepositoryRecreatesOutdatedSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.db")
	backups := filepath.Join(dir, "backups")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(Config{DBPath: path, BatchSize: 1, BackupDir: backups}, logger.New("test"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "telemetry_v99_")

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestNewRepositoryRequiresPath(t *testing.T) {
	_, err := NewRepository(Config{}, logger.New("test"))
	assert.Error(t, err)
}
