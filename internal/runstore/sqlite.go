// Package runstore keeps run history in a local sqlite database so
// completed runs can be inspected after the process exits.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDirMode  = 0o755
	defaultFileMode = 0o600
)

var ErrNotFound = errors.New("run store: run not found")

// Run is one completed agent run. Calls is populated by GetRun and left
// empty by ListRuns.
type Run struct {
	ID         string
	Message    string
	Content    string
	Status     string
	Iterations int
	StartedAt  time.Time
	EndedAt    time.Time
	Calls      []ToolCall
}

// ToolCall is one tool execution within a run, in execution order.
type ToolCall struct {
	Ordinal    int
	Tool       string
	ParamsJSON string
	Success    bool
	Error      string
}

type Store struct {
	path string
	db   *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("run store: db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("run store: create dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("run store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{path: path, db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, defaultFileMode); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun writes the run and its tool calls in one transaction. Saving an
// existing id replaces the previous record.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return errors.New("run store: nil database")
	}
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return errors.New("run store: run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, message, content, status, iterations, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message=excluded.message,
			content=excluded.content,
			status=excluded.status,
			iterations=excluded.iterations,
			started_at=excluded.started_at,
			ended_at=excluded.ended_at
	`, run.ID, run.Message, run.Content, run.Status, run.Iterations, run.StartedAt.UTC(), run.EndedAt.UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_calls WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for i, call := range run.Calls {
		ordinal := call.Ordinal
		if ordinal == 0 {
			ordinal = i + 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (run_id, ordinal, tool, params_json, success, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, ordinal, call.Tool, call.ParamsJSON, call.Success, call.Error); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Run{}, errors.New("run store: run id is required")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message, content, status, iterations, started_at, ended_at
		FROM runs
		WHERE id = ?
		LIMIT 1
	`, id)
	var run Run
	if err := row.Scan(&run.ID, &run.Message, &run.Content, &run.Status, &run.Iterations, &run.StartedAt, &run.EndedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, tool, params_json, success, error
		FROM tool_calls
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, id)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var call ToolCall
		if err := rows.Scan(&call.Ordinal, &call.Tool, &call.ParamsJSON, &call.Success, &call.Error); err != nil {
			return Run{}, err
		}
		run.Calls = append(run.Calls, call)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, without tool calls.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message, content, status, iterations, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Message, &run.Content, &run.Status, &run.Iterations, &run.StartedAt, &run.EndedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// DeleteRunsBefore removes runs that ended before the cutoff and returns
// how many were deleted.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("run store: nil database")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tool_calls
		WHERE run_id IN (SELECT id FROM runs WHERE ended_at < ?)
	`, cutoff.UTC()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE ended_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			message TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started
			ON runs(started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			run_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			tool TEXT NOT NULL,
			params_json TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL,
			PRIMARY KEY (run_id, ordinal)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run store: migrate: %w", err)
		}
	}
	return nil
}
