// Package store provides SQLite-backed persistence for job definitions and
// execution records. The relational store is the system of record: queue
// state can be rebuilt from it after a restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrJobNotFound is returned when a job definition does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrExecutionNotFound is returned when an execution record does not exist
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinalized is returned when finalizing an already-final record
	ErrExecutionFinalized = errors.New("execution already finalized")
)

// Open opens the SQLite database at path and creates the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		schedule TEXT NOT NULL,
		invocation_path TEXT NOT NULL,
		timezone TEXT NOT NULL,
		timeout_seconds INTEGER NOT NULL,
		max_retries INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at DATETIME,
		next_run_at DATETIME,
		last_status TEXT NOT NULL DEFAULT 'unknown',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(enabled, next_run_at);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		duration_ms INTEGER,
		retry_attempt INTEGER NOT NULL DEFAULT 0,
		response_snippet TEXT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_job ON executions(job_id, started_at);
`
