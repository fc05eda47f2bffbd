// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps a durable index of terminal runs in SQLite. The
// queue's Redis records can be evicted or swept; the history answers
// listing queries afterwards.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veristat/veristat/pkg/errors"
)

// Entry is one terminal run.
type Entry struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	SourceFile string    `json:"source_file,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store is a SQLite-backed run index.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	source_file TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at DESC);
`

// Open opens (and migrates) the history database at path. ":memory:"
// gives an ephemeral index for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// modernc sqlite allows one writer; serialize through one conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a terminal run. Recording the same run again overwrites
// the prior row, so retried terminal transitions stay idempotent.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, source_file, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			source_file = excluded.source_file,
			message = excluded.message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		e.RunID, e.Status, e.SourceFile, e.Message,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", e.RunID, err)
	}
	return nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, runID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, source_file, message, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	return e, nil
}

// List returns terminal runs, most recently finished first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, source_file, message, started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded runs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var started, finished string
	if err := row.Scan(&e.RunID, &e.Status, &e.SourceFile, &e.Message, &started, &finished); err != nil {
		return nil, err
	}
	e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return &e, nil
}
