// Package store keeps a history of server launches in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"natsvisor/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	pid INTEGER NOT NULL,
	args TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	exit_code INTEGER,
	reason TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
)
`

const insertRunSql = `
INSERT INTO runs (id, pid, args, started_at, reason, error)
VALUES (:id, :pid, :args, :started_at, :reason, :error)
`

const finishRunSql = `
INSERT INTO runs (id, pid, args, started_at, ended_at, exit_code, reason, error)
VALUES (:id, :pid, :args, :started_at, :ended_at, :exit_code, :reason, :error)
ON CONFLICT (id)
DO UPDATE SET ended_at = excluded.ended_at, exit_code = excluded.exit_code,
	reason = excluded.reason, error = excluded.error
`

var ErrRunNotFound = errors.New("run not found")

// Store records runs. It satisfies service.RunRecorder.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at dsn and creates the schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run history schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordStart(ctx context.Context, run models.Run) error {
	_, err := s.db.NamedExecContext(ctx, insertRunSql, run)
	return err
}

// RecordExit also inserts the row if the start was never recorded.
func (s *Store) RecordExit(ctx context.Context, run models.Run) error {
	_, err := s.db.NamedExecContext(ctx, finishRunSql, run)
	return err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	runs := []models.Run{}
	err := s.db.SelectContext(ctx, &runs,
		`SELECT id, pid, args, started_at, ended_at, exit_code, reason, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Run, error) {
	var run models.Run
	err := s.db.GetContext(ctx, &run,
		`SELECT id, pid, args, started_at, ended_at, exit_code, reason, error
		FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}
