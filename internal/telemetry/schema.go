package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS fan_samples (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp         INTEGER NOT NULL,
	       fan               INTEGER NOT NULL CHECK (typeof(fan) = 'integer'),
	       fan_speed_current INTEGER NOT NULL CHECK (fan_speed_current BETWEEN 0 AND 100),
	       fan_speed_target  INTEGER NOT NULL CHECK (fan_speed_target BETWEEN 0 AND 100),
	       temp_current      INTEGER NOT NULL CHECK (typeof(temp_current) = 'integer'),
	       temp_smoothed     INTEGER NOT NULL CHECK (typeof(temp_smoothed) = 'integer'),
	       power_current     INTEGER NOT NULL CHECK (typeof(power_current) = 'integer'),
	       power_target      INTEGER NOT NULL CHECK (typeof(power_target) = 'integer'),
	       overridden        INTEGER NOT NULL CHECK (overridden IN (0, 1)),
	       resumed           INTEGER NOT NULL CHECK (resumed IN (0, 1)),
	       delay_ms          INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS fan_samples_fan_timestamp ON fan_samples (fan, timestamp);`

	insertSampleSQL = `
    INSERT INTO fan_samples (
        timestamp, fan,
        fan_speed_current, fan_speed_target,
        temp_current, temp_smoothed,
        power_current, power_target,
        overridden, resumed, delay_ms
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
