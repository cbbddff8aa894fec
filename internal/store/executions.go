package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/model"
)

// ExecutionStore defines persistence for execution records. Records are
// append-only per attempt: Insert opens one, Finalize closes it exactly once.
type ExecutionStore interface {
	// Insert stores a new record, normally with status running
	Insert(ctx context.Context, rec *model.ExecutionRecord) error

	// Finalize transitions a running record to a terminal status. Returns
	// ErrExecutionFinalized if the record already reached one.
	Finalize(ctx context.Context, rec *model.ExecutionRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*model.ExecutionRecord, error)

	// ListByJob retrieves a job's records, most recent first
	ListByJob(ctx context.Context, jobID string, offset, limit int) ([]*model.ExecutionRecord, error)

	// CountByJob returns the number of records for a job
	CountByJob(ctx context.Context, jobID string) (int, error)

	// SuccessRate summarizes terminal outcomes for a job
	SuccessRate(ctx context.Context, jobID string) (*model.SuccessRate, error)

	// DeleteBefore removes records started before the cutoff
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteExecutionStore implements ExecutionStore on SQLite
type SQLiteExecutionStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteExecutionStore creates an execution store over an opened database.
func NewSQLiteExecutionStore(logger *zap.Logger, db *sql.DB) *SQLiteExecutionStore {
	return &SQLiteExecutionStore{logger: logger.Named("execution-store"), db: db}
}

const executionColumns = `id, job_id, status, started_at, finished_at,
	duration_ms, retry_attempt, response_snippet, error_message`

// Insert implements ExecutionStore.Insert
func (s *SQLiteExecutionStore) Insert(ctx context.Context, rec *model.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, job_id, status, started_at, retry_attempt)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Status, rec.StartedAt.UTC(), rec.RetryAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// Finalize implements ExecutionStore.Finalize. The status guard in the WHERE
// clause enforces append-only semantics: a record transitions out of running
// at most once.
func (s *SQLiteExecutionStore) Finalize(ctx context.Context, rec *model.ExecutionRecord) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("cannot finalize with non-terminal status %q", rec.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, finished_at = ?, duration_ms = ?,
			response_snippet = ?, error_message = ?
		WHERE id = ? AND status IN (?, ?)`,
		rec.Status,
		sql.NullTime{Time: derefTime(rec.FinishedAt), Valid: rec.FinishedAt != nil},
		sql.NullInt64{Int64: derefInt64(rec.DurationMs), Valid: rec.DurationMs != nil},
		sql.NullString{String: rec.ResponseSnippet, Valid: rec.ResponseSnippet != ""},
		sql.NullString{String: rec.ErrorMessage, Valid: rec.ErrorMessage != ""},
		rec.ID, model.ExecutionStatusPending, model.ExecutionStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		// Either the record is missing or it already reached a terminal
		// status. Distinguish for the caller.
		if _, err := s.Get(ctx, rec.ID); err != nil {
			return err
		}
		return ErrExecutionFinalized
	}
	return nil
}

// Get implements ExecutionStore.Get
func (s *SQLiteExecutionStore) Get(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return rec, nil
}

// ListByJob implements ExecutionStore.ListByJob
func (s *SQLiteExecutionStore) ListByJob(ctx context.Context, jobID string, offset, limit int) ([]*model.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE job_id = ?
		ORDER BY started_at DESC, retry_attempt DESC
		LIMIT ? OFFSET ?`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var recs []*model.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}

// CountByJob implements ExecutionStore.CountByJob
func (s *SQLiteExecutionStore) CountByJob(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE job_id = ?`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// SuccessRate implements ExecutionStore.SuccessRate over terminal records.
func (s *SQLiteExecutionStore) SuccessRate(ctx context.Context, jobID string) (*model.SuccessRate, error) {
	summary := &model.SuccessRate{JobID: jobID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM executions
		WHERE job_id = ? AND status IN (?, ?)`,
		model.ExecutionStatusSuccess, model.ExecutionStatusFailed,
		jobID, model.ExecutionStatusSuccess, model.ExecutionStatusFailed,
	).Scan(&summary.Total, &summary.Succeeded, &summary.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute success rate: %w", err)
	}
	if summary.Total > 0 {
		summary.Rate = float64(summary.Succeeded) / float64(summary.Total)
	}
	return summary, nil
}

// DeleteBefore implements ExecutionStore.DeleteBefore
func (s *SQLiteExecutionStore) DeleteBefore(ctx context.Context, before time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE started_at < ?`, before.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		s.logger.Info("Deleted old execution records",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*model.ExecutionRecord, error) {
	var rec model.ExecutionRecord
	var finished sql.NullTime
	var duration sql.NullInt64
	var snippet, errMsg sql.NullString

	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.Status, &rec.StartedAt,
		&finished, &duration, &rec.RetryAttempt, &snippet, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	if duration.Valid {
		rec.DurationMs = &duration.Int64
	}
	if snippet.Valid {
		rec.ResponseSnippet = snippet.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	return &rec, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
