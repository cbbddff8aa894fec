package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// JobStatus represents the last known outcome of a job's execution
type JobStatus string

const (
	JobStatusUnknown JobStatus = "unknown"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Bounds applied to job settings at write time. Reads never clamp.
const (
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 300

	MinRetries = 0
	MaxRetries = 5
)

// JobDefinition is a named, project-owned cron schedule that invokes a path
// on the project's deployed endpoint.
type JobDefinition struct {
	ID             string     `json:"id" validate:"required"`
	ProjectID      string     `json:"project_id" validate:"required"`
	Name           string     `json:"name" validate:"required,max=128"`
	Schedule       string     `json:"schedule" validate:"required"`
	InvocationPath string     `json:"invocation_path" validate:"required,startswith=/"`
	Timezone       string     `json:"timezone" validate:"required"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	MaxRetries     int        `json:"max_retries"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastStatus     JobStatus  `json:"last_status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural fields of a job definition. Schedule
// expression validity is checked separately by the cronexpr package.
func (j *JobDefinition) Validate() error {
	return validate.Struct(j)
}

// Clamp forces timeout and retry settings into their allowed bounds.
// Called by the store on every write path.
func (j *JobDefinition) Clamp() {
	if j.TimeoutSeconds < MinTimeoutSeconds {
		j.TimeoutSeconds = MinTimeoutSeconds
	}
	if j.TimeoutSeconds > MaxTimeoutSeconds {
		j.TimeoutSeconds = MaxTimeoutSeconds
	}
	if j.MaxRetries < MinRetries {
		j.MaxRetries = MinRetries
	}
	if j.MaxRetries > MaxRetries {
		j.MaxRetries = MaxRetries
	}
}

// AttemptsAllowed is the total number of delivery attempts for one
// invocation of this job: the initial attempt plus retries.
func (j *JobDefinition) AttemptsAllowed() int {
	return j.MaxRetries + 1
}
