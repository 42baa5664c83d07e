package store

import (
	"database/sql"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       name            TEXT NOT NULL,
	       created_at      TEXT NOT NULL,
	       duration_ns     INTEGER NOT NULL CHECK (duration_ns > 0),
	       tick_ns         INTEGER NOT NULL CHECK (tick_ns > 0),
	       stations        INTEGER NOT NULL,
	       cancelled       INTEGER NOT NULL CHECK (cancelled IN (0, 1)),
	       fairness_index  REAL NOT NULL,
	       efficiency      REAL NOT NULL,
	       avg_delay       REAL NOT NULL,
	       handover_count  INTEGER NOT NULL,
	       dropped_samples INTEGER NOT NULL,
	       report          TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       run_id      INTEGER NOT NULL REFERENCES runs(id),
	       station_id  TEXT NOT NULL,
	       at_ns       INTEGER NOT NULL,
	       metric      TEXT NOT NULL,
	       value       REAL NOT NULL,
	       ap          TEXT NOT NULL,
	       lost        INTEGER NOT NULL CHECK (lost IN (0, 1))
	   );
	   CREATE TABLE IF NOT EXISTS handover_events (
	       run_id       INTEGER NOT NULL REFERENCES runs(id),
	       station_id   TEXT NOT NULL,
	       at_ns        INTEGER NOT NULL,
	       from_ap      TEXT NOT NULL,
	       to_ap        TEXT NOT NULL,
	       reason       TEXT NOT NULL,
	       x            REAL NOT NULL,
	       y            REAL NOT NULL,
	       z            REAL NOT NULL,
	       from_quality REAL NOT NULL,
	       to_quality   REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS handover_delays (
	       run_id      INTEGER NOT NULL REFERENCES runs(id),
	       station_id  TEXT NOT NULL,
	       at_ns       INTEGER NOT NULL,
	       from_ap     TEXT NOT NULL,
	       to_ap       TEXT NOT NULL,
	       delay_ns    INTEGER NOT NULL CHECK (delay_ns >= 0)
	   );
	   CREATE INDEX IF NOT EXISTS samples_run_station ON samples (run_id, station_id, at_ns);`

	insertRunSQL = `
    INSERT INTO runs (
        name, created_at, duration_ns, tick_ns, stations, cancelled,
        fairness_index, efficiency, avg_delay, handover_count, dropped_samples,
        report
    ) VALUES (?, datetime('now'), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
    INSERT INTO samples (run_id, station_id, at_ns, metric, value, ap, lost)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
    INSERT INTO handover_events (
        run_id, station_id, at_ns, from_ap, to_ap, reason,
        x, y, z, from_quality, to_quality
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertDelaySQL = `
    INSERT INTO handover_delays (run_id, station_id, at_ns, from_ap, to_ap, delay_ns)
    VALUES (?, ?, ?, ?, ?, ?)`
)

var tables = []string{"handover_delays", "handover_events", "samples", "runs", "schema_versions"}

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
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
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
		Msg("Schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
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
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
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
