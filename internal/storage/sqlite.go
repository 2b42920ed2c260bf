// Package storage implements the daemon's audit log: an append-only
// SQLite record of every WorkFlow the Commander started, kept
// independent of the network-state persistence the Config-role plugin
// owns (that history is reached via QueryCommits, not this package).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Audit wraps a SQLite connection bootstrapped with the audit_log table.
type Audit struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and
// ensures the audit_log table exists.
func Open(ctx context.Context, path string) (*Audit, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: audit db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Audit{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  workflow_id TEXT NOT NULL,
  kind        TEXT NOT NULL,
  detail      TEXT,
  recorded_at TEXT NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("storage: bootstrap: %w", err)
	}
	return nil
}

// Record appends one audit entry. kind is typically "workflow_started",
// "workflow_completed", or "workflow_failed"; detail is a short free-form description
// (e.g. the failure's message).
func (a *Audit) Record(ctx context.Context, workflowID, kind, detail string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (workflow_id, kind, detail, recorded_at) VALUES (?, ?, ?, ?)`,
		workflowID, kind, detail, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: record audit entry: %w", err)
	}
	return nil
}

// Entry is one row of the audit log.
type Entry struct {
	ID         int64
	WorkflowID string
	Kind       string
	Detail     string
	RecordedAt string
}

// Recent returns the most recent audit entries, newest first, bounded
// by limit.
func (a *Audit) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, workflow_id, kind, detail, recorded_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Kind, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *Audit) Close() error {
	return a.db.Close()
}
