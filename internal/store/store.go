// Package store persists scenario runs to SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/logger"
	"codeberg.org/mutker/roamctl/internal/metrics"
	"codeberg.org/mutker/roamctl/internal/pid"
	"codeberg.org/mutker/roamctl/internal/stats"
	_ "github.com/mattn/go-sqlite3"
)

// Run is everything persisted for one scenario run.
type Run struct {
	Name      string
	Duration  time.Duration
	Tick      time.Duration
	Cancelled bool
	Windows   []*metrics.Window
	Report    stats.Report
}

// RunSummary is a stored run without its samples.
type RunSummary struct {
	ID             int64
	Name           string
	Stations       int
	Cancelled      bool
	FairnessIndex  float64
	Efficiency     float64
	AvgDelay       float64
	HandoverCount  int
	DroppedSamples int
	Report         stats.Report
}

// Store is the SQLite report sink.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
}

// Open opens or creates the database at cfg.Path, recreating the schema when
// its version is not current.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if cfg.Path == "" {
		return nil, errFactory.New(ErrInvalidPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	// Schema recreation drops tables, so only one process may write a
	// database at a time.
	if err := pid.Write(cfg.lockPath()); err != nil {
		return nil, err
	}

	dsn := cfg.Path + "?_journal=WAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		releaseLock(cfg, log)
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		releaseLock(cfg, log)
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Msg("Run store initialized")

	return &Store{db: db, logger: log, cfg: cfg}, nil
}

// SaveRun writes a run, its samples, events and handover delays in a single
// transaction and returns the run id.
func (s *Store) SaveRun(ctx context.Context, run Run) (int64, error) {
	errFactory := errors.New()

	report, err := json.Marshal(run.Report)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	r := run.Report
	res, err := tx.ExecContext(ctx, insertRunSQL,
		run.Name,
		int64(run.Duration),
		int64(run.Tick),
		r.Stations,
		boolToInt(run.Cancelled),
		r.FairnessIndex,
		r.Efficiency,
		r.AvgDelay,
		r.HandoverCount,
		r.DroppedSamples,
		string(report),
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	samples, events, err := s.insertWindows(ctx, tx, runID, run.Windows)
	if err != nil {
		return 0, err
	}

	delays, err := tx.PrepareContext(ctx, insertDelaySQL)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer delays.Close()
	for _, d := range r.HandoverDelays {
		if _, err := delays.ExecContext(ctx, runID, d.StationID, int64(d.At), d.From, d.To, int64(d.Delay)); err != nil {
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	s.logger.Debug().
		Int64("run_id", runID).
		Int("samples", samples).
		Int("events", events).
		Msg("Saved run")

	return runID, nil
}

func (s *Store) insertWindows(ctx context.Context, tx *sql.Tx, runID int64, windows []*metrics.Window) (int, int, error) {
	errFactory := errors.New()

	sampleStmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer sampleStmt.Close()

	eventStmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer eventStmt.Close()

	var samples, events int
	for _, w := range windows {
		for _, e := range w.Entries() {
			if _, err := sampleStmt.ExecContext(ctx,
				runID, e.StationID, int64(e.At), e.Metric, e.Value, e.AP, boolToInt(e.Lost),
			); err != nil {
				return 0, 0, errFactory.Wrap(ErrTransactionFailed, err)
			}
			samples++
		}
		for _, ev := range w.Events() {
			if _, err := eventStmt.ExecContext(ctx,
				runID, ev.StationID, int64(ev.At), ev.FromAP, ev.ToAP, string(ev.Reason),
				ev.Position.X, ev.Position.Y, ev.Position.Z, ev.FromQuality, ev.ToQuality,
			); err != nil {
				return 0, 0, errFactory.Wrap(ErrTransactionFailed, err)
			}
			events++
		}
	}

	return samples, events, nil
}

// Runs returns the stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	errFactory := errors.New()

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, stations, cancelled, fairness_index, efficiency,
               avg_delay, handover_count, dropped_samples, report
        FROM runs
        ORDER BY id
    `)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs        RunSummary
			cancelled int
			report    string
		)
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Stations, &cancelled, &rs.FairnessIndex,
			&rs.Efficiency, &rs.AvgDelay, &rs.HandoverCount, &rs.DroppedSamples, &report); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		rs.Cancelled = cancelled == 1
		if err := json.Unmarshal([]byte(report), &rs.Report); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

// CountSamples returns the number of stored samples of a run.
func (s *Store) CountSamples(ctx context.Context, runID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return n, nil
}

// Close checkpoints the WAL, closes the database and releases the lock.
// Every step runs even if an earlier one fails; the first error is returned.
func (s *Store) Close() error {
	var first error
	fail := func(phase string, err error) {
		s.logger.Warn().Err(err).Str("phase", phase).Msg("Run store close step failed")
		if first == nil {
			first = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: phase,
				Error: err.Error(),
			})
		}
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fail("checkpoint_wal", err)
	}
	if err := s.db.Close(); err != nil {
		fail("close_database", err)
	}
	if err := pid.Remove(s.cfg.lockPath()); err != nil {
		fail("release_lock", err)
	}
	if first != nil {
		return first
	}

	s.logger.Info().Msg("Run store closed")

	return nil
}

func releaseLock(cfg Config, log logger.Logger) {
	if err := pid.Remove(cfg.lockPath()); err != nil {
		log.Debug().Err(err).Msg("Failed to remove store lock")
	}
}
