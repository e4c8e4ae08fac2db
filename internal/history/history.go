// Package history persists a run-history index backing the `status`
// command (§11): one row per completed run, keyed by a UUID correlating
// it with the run's manifest.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/qbak-io/backupd/internal/manifest"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	mode          TEXT NOT NULL,
	files_copied  INTEGER NOT NULL,
	files_skipped INTEGER NOT NULL,
	files_failed  INTEGER NOT NULL,
	success       INTEGER NOT NULL
);
`

// Store is a sqlite-backed run-history index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one recorded run-history row.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Mode         manifest.Mode
	FilesCopied  int
	FilesSkipped int
	FilesFailed  int
	Success      bool
}

// RecordRun generates a fresh run ID and inserts a row for it, returning
// the ID so the caller can correlate it with the run's manifest.
func (s *Store) RecordRun(startedAt, finishedAt time.Time, doc manifest.Document, success bool) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, finished_at, mode, files_copied, files_skipped, files_failed, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, startedAt, finishedAt, string(doc.Mode), doc.FilesCopied, doc.FilesSkipped, doc.FilesFailed, success,
	)
	if err != nil {
		return "", fmt.Errorf("history: insert run: %w", err)
	}
	return id, nil
}

// Latest returns the N most recently finished runs, newest first.
func (s *Store) Latest(n int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, mode, files_copied, files_skipped, files_failed, success
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query latest: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var mode string
		var success int
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &mode, &r.FilesCopied, &r.FilesSkipped, &r.FilesFailed, &success); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.Mode = manifest.Mode(mode)
		r.Success = success != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
