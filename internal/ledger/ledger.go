// Package ledger records batch runs and per-file outcomes in a sqlite file so
// that reruns can be audited and reported on.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/dm4tiff/internal/monitoring"
	"github.com/banshee-data/dm4tiff/internal/timeutil"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Status is the outcome of one file.
type Status string

const (
	StatusOK        Status = "ok"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusSubmitted Status = "submitted"
)

// Run is one invocation of the batch command.
type Run struct {
	ID         string
	Root       string
	Mode       string
	Params     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or if the process died
	Total      int
	Failed     int
}

// Result is the outcome for a single source file.
type Result struct {
	RunID     string
	Source    string
	Output    string
	Status    Status
	ErrorKind string
	Error     string

	// Input dimensions and output grid shape.
	Width, Height    int
	OutRows, OutCols int

	Min, Max, Mean, Std float64

	Duration   time.Duration
	JobID      string
	RecordedAt time.Time
}

// Ledger is a sqlite-backed store of runs and results.
type Ledger struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the ledger at path and applies migrations.
func Open(path string, clock timeutil.Clock) (*Ledger, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// Workers record concurrently; a single connection serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, clock: clock}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	// m is not closed: that would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun creates a run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, root, mode, params string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, root, mode, params, started_ns) VALUES (?, ?, ?, ?, ?)`,
		id, root, mode, params, l.clock.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time and totals.
func (l *Ledger) FinishRun(ctx context.Context, runID string, total, failed int) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_ns = ?, total = ?, failed = ? WHERE run_id = ?`,
		l.clock.Now().UnixNano(), total, failed, runID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Record stores one file result. RecordedAt defaults to now.
func (l *Ledger) Record(ctx context.Context, r Result) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = l.clock.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO results (
			run_id, source, output, status, error_kind, error,
			width, height, out_rows, out_cols,
			min_value, max_value, mean_value, std_value,
			duration_ns, job_id, recorded_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Output, string(r.Status), r.ErrorKind, r.Error,
		r.Width, r.Height, r.OutRows, r.OutCols,
		r.Min, r.Max, r.Mean, r.Std,
		int64(r.Duration), r.JobID, r.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert result for %s: %w", r.Source, err)
	}
	return nil
}

// Results returns the results of a run ordered by source path.
func (l *Ledger) Results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, source, output, status, error_kind, error,
			width, height, out_rows, out_cols,
			min_value, max_value, mean_value, std_value,
			duration_ns, job_id, recorded_ns
		FROM results WHERE run_id = ? ORDER BY source, result_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r          Result
			status     string
			durationNs int64
			recordedNs int64
		)
		if err := rows.Scan(&r.RunID, &r.Source, &r.Output, &status, &r.ErrorKind, &r.Error,
			&r.Width, &r.Height, &r.OutRows, &r.OutCols,
			&r.Min, &r.Max, &r.Mean, &r.Std,
			&durationNs, &r.JobID, &recordedNs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = Status(status)
		r.Duration = time.Duration(durationNs)
		r.RecordedAt = time.Unix(0, recordedNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns a single run.
func (l *Ledger) Run(ctx context.Context, runID string) (Run, error) {
	row := l.db.QueryRowContext(ctx, runColumns+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// Runs lists all runs, newest first.
func (l *Ledger) Runs(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, runColumns+` ORDER BY started_ns DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunID returns the id of the most recently started run.
func (l *Ledger) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs ORDER BY started_ns DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}

const runColumns = `SELECT run_id, root, mode, params, started_ns, finished_ns, total, failed FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r          Run
		startedNs  int64
		finishedNs sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Root, &r.Mode, &r.Params, &startedNs, &finishedNs, &r.Total, &r.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt = time.Unix(0, startedNs)
	if finishedNs.Valid {
		r.FinishedAt = time.Unix(0, finishedNs.Int64)
	}
	return r, nil
}
