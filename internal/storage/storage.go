// Package storage provides a SQLite-backed cache of analysis runs and a
// history of generated reports.
//
// Runs are cached per source together with the time they were fetched, so
// callers can apply a time-based invalidation policy (see LastFetched) or
// force a refresh (see Invalidate). Rotation keeps the database bounded.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viktor-monitor/viktor/internal/models"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	source     TEXT    NOT NULL,
	id         INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	PRIMARY KEY (source, id)
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs (source, created_at DESC);

CREATE TABLE IF NOT EXISTS fetch_state (
	source     TEXT    PRIMARY KEY,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT    PRIMARY KEY,
	source       TEXT    NOT NULL,
	generated_at INTEGER NOT NULL,
	payload      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports (source, generated_at DESC);
`

// Storage is safe for concurrent use; SQLite serializes writers.
type Storage struct {
	db *sql.DB

	// Configuration
	maxRunsPerSource int
	maxReports       int
}

// New opens (or creates) the database at dbPath. ":memory:" gives a private
// in-memory database.
func New(maxRunsPerSource, maxReports int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "viktor", "viktor.db")
	}

	dsn := memoryPath
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Storage{
		db:               db,
		maxRunsPerSource: maxRunsPerSource,
		maxReports:       maxReports,
	}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveRuns upserts runs for a source and records fetchedAt as the source's
// last successful fetch. Either everything is written or nothing is.
func (s *Storage) SaveRuns(ctx context.Context, source models.Source, runs []models.AnalysisRun, fetchedAt time.Time) error {
	if !source.Valid() {
		return fmt.Errorf("invalid source %q", source)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analysis_runs (source, id, created_at, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT (source, id) DO UPDATE SET created_at = excluded.created_at, payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range runs {
		run := runs[i]
		run.Source = source
		if err := run.Validate(); err != nil {
			return fmt.Errorf("invalid run %d: %w", run.ID, err)
		}
		payload, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run %d: %w", run.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(source), run.ID, run.CreatedAt.UnixNano(), string(payload)); err != nil {
			return fmt.Errorf("failed to save run %d: %w", run.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fetch_state (source, fetched_at) VALUES (?, ?)
		ON CONFLICT (source) DO UPDATE SET fetched_at = excluded.fetched_at`,
		string(source), fetchedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to record fetch time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit runs: %w", err)
	}
	return nil
}

// GetRuns returns the cached runs of a source, newest first.
func (s *Storage) GetRuns(ctx context.Context, source models.Source) ([]models.AnalysisRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM analysis_runs WHERE source = ? ORDER BY created_at DESC, id DESC`, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.AnalysisRun, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run models.AnalysisRun
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LastFetched returns when the source was last fetched successfully, or
// ErrNotFound if it never was or has been invalidated since.
func (s *Storage) LastFetched(ctx context.Context, source models.Source) (time.Time, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM fetch_state WHERE source = ?`, string(source)).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query fetch time: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// Invalidate forgets the last fetch time of a source so the next read
// refetches. Cached runs are kept as a fallback.
func (s *Storage) Invalidate(ctx context.Context, source models.Source) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fetch_state WHERE source = ?`, string(source)); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", source, err)
	}
	return nil
}

// AddReport stores a generated report
func (s *Storage) AddReport(ctx context.Context, report *models.Report) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, source, generated_at, payload) VALUES (?, ?, ?, ?)`,
		report.ID, string(report.Source), report.GeneratedAt.UnixNano(), string(payload)); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// LatestReport returns the most recent report of a source.
func (s *Storage) LatestReport(ctx context.Context, source models.Source) (*models.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM reports WHERE source = ? ORDER BY generated_at DESC LIMIT 1`, string(source)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}

	var report models.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// RotateRuns removes the oldest runs of every source beyond the limit
func (s *Storage) RotateRuns(ctx context.Context) error {
	for _, source := range []models.Source{models.SourceDaily, models.SourceWeekly} {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM analysis_runs WHERE source = ? AND id NOT IN (
				SELECT id FROM analysis_runs WHERE source = ? ORDER BY created_at DESC, id DESC LIMIT ?
			)`, string(source), string(source), s.maxRunsPerSource); err != nil {
			return fmt.Errorf("failed to rotate %s runs: %w", source, err)
		}
	}
	return nil
}

// RotateReports removes the oldest reports beyond the limit
func (s *Storage) RotateReports(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM reports WHERE id NOT IN (
			SELECT id FROM reports ORDER BY generated_at DESC LIMIT ?
		)`, s.maxReports); err != nil {
		return fmt.Errorf("failed to rotate reports: %w", err)
	}
	return nil
}
