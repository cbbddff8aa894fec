package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Invocation is one durable queue message meaning "run this job now".
// It carries everything a worker needs so dispatch does not depend on the
// job definition still being readable.
type Invocation struct {
	InvocationKey   string `json:"invocation_key"`
	JobID           string `json:"job_id"`
	ProjectID       string `json:"project_id"`
	InvocationPath  string `json:"invocation_path"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	AttemptsAllowed int    `json:"attempts_allowed"`
}

// NewInvocation builds the queue message for one due occurrence of a job.
// The key is derived from the job id and the occurrence minute, so two
// poller instances firing the same occurrence produce the same key and the
// queue's duplicate window collapses them.
func NewInvocation(job *JobDefinition, occurrence time.Time) *Invocation {
	return &Invocation{
		InvocationKey:   DedupKey(job.ID, occurrence),
		JobID:           job.ID,
		ProjectID:       job.ProjectID,
		InvocationPath:  job.InvocationPath,
		TimeoutSeconds:  job.TimeoutSeconds,
		AttemptsAllowed: job.AttemptsAllowed(),
	}
}

// NewManualInvocation builds the queue message for a user-triggered run.
// Manual keys are unique per request: a manual run must never be swallowed
// by the duplicate window of a scheduled occurrence.
func NewManualInvocation(job *JobDefinition) *Invocation {
	inv := NewInvocation(job, time.Time{})
	inv.InvocationKey = fmt.Sprintf("%s.manual.%s", job.ID, uuid.NewString())
	return inv
}

// DedupKey identifies one logical occurrence of a job: the job id plus the
// occurrence timestamp truncated to the minute, in UTC.
func DedupKey(jobID string, occurrence time.Time) string {
	bucket := occurrence.UTC().Truncate(time.Minute)
	return fmt.Sprintf("%s.%d", jobID, bucket.Unix())
}
