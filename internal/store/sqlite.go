package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"juptidu/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ AttemptStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS attempts (
	run_id      TEXT    NOT NULL,
	config_path TEXT    NOT NULL,
	number      INTEGER NOT NULL,
	pid         INTEGER NOT NULL,
	exit_code   INTEGER NOT NULL,
	outcome     TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, config_path, number)
);
CREATE INDEX IF NOT EXISTS attempts_started ON attempts (started_at);
`

// SQLitePath returns the database file used for a history directory.
func SQLitePath(dir string) string {
	return filepath.Join(dir, "attempts.db")
}

// SQLiteStore implements AttemptStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// attempts table if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Concurrent retry loops share the store; one connection serializes
	// writers without SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating attempts table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordAttempt inserts or replaces an attempt row.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a *domain.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO attempts
	(run_id, config_path, number, pid, exit_code, outcome, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.ConfigPath, a.Number, a.PID, a.ExitCode, string(a.Outcome), a.Error,
		a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording attempt %d for %s: %w", a.Number, a.ConfigPath, err)
	}
	return nil
}

// ListAttempts returns attempts matching f, oldest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]domain.Attempt, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.ConfigPath != "" {
		where = append(where, "config_path = ?")
		args = append(args, f.ConfigPath)
	}

	q := `SELECT run_id, config_path, number, pid, exit_code, outcome, error, started_at, finished_at FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at, config_path, number"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var (
			a                 domain.Attempt
			outcome           string
			started, finished int64
		)
		if err := rows.Scan(&a.RunID, &a.ConfigPath, &a.Number, &a.PID, &a.ExitCode,
			&outcome, &a.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Outcome = domain.Outcome(outcome)
		a.StartedAt = time.UnixMilli(started)
		a.FinishedAt = time.UnixMilli(finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListRuns returns run IDs ordered by their first attempt, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id FROM attempts GROUP BY run_id ORDER BY MIN(started_at) DESC, run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
