package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/model"
)

// JobStore defines persistence for job definitions
type JobStore interface {
	// Create persists a new job definition, clamping settings at write time
	Create(ctx context.Context, job *model.JobDefinition) error

	// Update rewrites a job definition, clamping settings at write time
	Update(ctx context.Context, job *model.JobDefinition) error

	// Get retrieves a job definition by ID
	Get(ctx context.Context, id string) (*model.JobDefinition, error)

	// ListByProject retrieves all job definitions owned by a project
	ListByProject(ctx context.Context, projectID string) ([]*model.JobDefinition, error)

	// ListDue retrieves enabled jobs whose next run is at or before now
	ListDue(ctx context.Context, now time.Time) ([]*model.JobDefinition, error)

	// SetNextRun advances a job's scheduling watermark
	SetNextRun(ctx context.Context, id string, next time.Time) error

	// SetEnabled toggles a job on or off
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// FinalizeRun rolls last_run_at/last_status forward after a terminal outcome
	FinalizeRun(ctx context.Context, id string, ranAt time.Time, status model.JobStatus) error

	// Delete removes a job and cascades to its execution records
	Delete(ctx context.Context, id string) error
}

// SQLiteJobStore implements JobStore on SQLite
type SQLiteJobStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteJobStore creates a job store over an opened database.
func NewSQLiteJobStore(logger *zap.Logger, db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{logger: logger.Named("job-store"), db: db}
}

const jobColumns = `id, project_id, name, schedule, invocation_path, timezone,
	timeout_seconds, max_retries, enabled, last_run_at, next_run_at, last_status,
	created_at, updated_at`

// Create implements JobStore.Create
func (s *SQLiteJobStore) Create(ctx context.Context, job *model.JobDefinition) error {
	job.Clamp()
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job definition: %w", err)
	}
	if job.LastStatus == "" {
		job.LastStatus = model.JobStatusUnknown
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.Name, job.Schedule, job.InvocationPath,
		job.Timezone, job.TimeoutSeconds, job.MaxRetries, job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), job.LastStatus,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Update implements JobStore.Update
func (s *SQLiteJobStore) Update(ctx context.Context, job *model.JobDefinition) error {
	job.Clamp()
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job definition: %w", err)
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			name = ?, schedule = ?, invocation_path = ?, timezone = ?,
			timeout_seconds = ?, max_retries = ?, enabled = ?,
			last_run_at = ?, next_run_at = ?, last_status = ?, updated_at = ?
		WHERE id = ?`,
		job.Name, job.Schedule, job.InvocationPath, job.Timezone,
		job.TimeoutSeconds, job.MaxRetries, job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), job.LastStatus,
		job.UpdatedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(res)
}

// Get implements JobStore.Get
func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*model.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListByProject implements JobStore.ListByProject
func (s *SQLiteJobStore) ListByProject(ctx context.Context, projectID string) ([]*model.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListDue implements JobStore.ListDue
func (s *SQLiteJobStore) ListDue(ctx context.Context, now time.Time) ([]*model.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// SetNextRun implements JobStore.SetNextRun
func (s *SQLiteJobStore) SetNextRun(ctx context.Context, id string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		next.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return requireRow(res)
}

// SetEnabled implements JobStore.SetEnabled
func (s *SQLiteJobStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set enabled: %w", err)
	}
	return requireRow(res)
}

// FinalizeRun implements JobStore.FinalizeRun
func (s *SQLiteJobStore) FinalizeRun(ctx context.Context, id string, ranAt time.Time, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET last_run_at = ?, last_status = ?, updated_at = ? WHERE id = ?`,
		ranAt.UTC(), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	return requireRow(res)
}

// Delete implements JobStore.Delete. Execution records cascade in the same
// transaction so history never outlives its job.
func (s *SQLiteJobStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func scanJob(row *sql.Row) (*model.JobDefinition, error) {
	var job model.JobDefinition
	var lastRun, nextRun sql.NullTime
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Name, &job.Schedule, &job.InvocationPath,
		&job.Timezone, &job.TimeoutSeconds, &job.MaxRetries, &job.Enabled,
		&lastRun, &nextRun, &job.LastStatus, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*model.JobDefinition, error) {
	var jobs []*model.JobDefinition
	for rows.Next() {
		var job model.JobDefinition
		var lastRun, nextRun sql.NullTime
		err := rows.Scan(
			&job.ID, &job.ProjectID, &job.Name, &job.Schedule, &job.InvocationPath,
			&job.Timezone, &job.TimeoutSeconds, &job.MaxRetries, &job.Enabled,
			&lastRun, &nextRun, &job.LastStatus, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			job.NextRunAt = &nextRun.Time
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return jobs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
