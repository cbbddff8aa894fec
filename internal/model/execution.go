package model

import "time"

// ExecutionStatus represents the state of one execution attempt
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// ExecutionRecord is an immutable audit row for a single execution attempt.
// A retried attempt creates a new record; finalized records are never
// mutated, so the full attempt history stays reconstructible.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	RetryAttempt    int             `json:"retry_attempt"`
	ResponseSnippet string          `json:"response_snippet,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// SuccessRate summarizes a job's execution history for dashboards.
type SuccessRate struct {
	JobID     string  `json:"job_id"`
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Rate      float64 `json:"rate"`
}
