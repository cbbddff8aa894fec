package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *JobDefinition {
	return &JobDefinition{
		ID:             "job-1",
		ProjectID:      "proj-1",
		Name:           "nightly-report",
		Schedule:       "0 0 * * *",
		InvocationPath: "/cron/report",
		Timezone:       "UTC",
		TimeoutSeconds: 30,
		MaxRetries:     2,
		Enabled:        true,
		LastStatus:     JobStatusUnknown,
	}
}

func TestJobClamp(t *testing.T) {
	tests := []struct {
		name        string
		timeout     int
		retries     int
		wantTimeout int
		wantRetries int
	}{
		{"within bounds", 30, 2, 30, 2},
		{"timeout too small", 0, 2, MinTimeoutSeconds, 2},
		{"timeout too large", 301, 2, MaxTimeoutSeconds, 2},
		{"retries negative", 30, -1, 30, MinRetries},
		{"retries too large", 30, 99, 30, MaxRetries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := validJob()
			job.TimeoutSeconds = tt.timeout
			job.MaxRetries = tt.retries
			job.Clamp()
			assert.Equal(t, tt.wantTimeout, job.TimeoutSeconds)
			assert.Equal(t, tt.wantRetries, job.MaxRetries)
		})
	}
}

func TestJobValidate(t *testing.T) {
	require.NoError(t, validJob().Validate())

	job := validJob()
	job.Name = ""
	require.Error(t, job.Validate())

	job = validJob()
	job.InvocationPath = "no-leading-slash"
	require.Error(t, job.Validate())
}

func TestAttemptsAllowed(t *testing.T) {
	job := validJob()
	job.MaxRetries = 0
	assert.Equal(t, 1, job.AttemptsAllowed())
	job.MaxRetries = 5
	assert.Equal(t, 6, job.AttemptsAllowed())
}

func TestDedupKey(t *testing.T) {
	base := time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC)

	// Same occurrence minute yields the same key regardless of seconds.
	k1 := DedupKey("job-1", base)
	k2 := DedupKey("job-1", base.Add(30*time.Second))
	assert.Equal(t, k1, k2)

	// Different minute or job yields a different key.
	assert.NotEqual(t, k1, DedupKey("job-1", base.Add(time.Minute)))
	assert.NotEqual(t, k1, DedupKey("job-2", base))

	// Timezone does not matter: buckets are UTC.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, k1, DedupKey("job-1", base.In(ny)))
}

func TestNewInvocation(t *testing.T) {
	job := validJob()
	occurrence := time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC)

	inv := NewInvocation(job, occurrence)
	assert.Equal(t, DedupKey(job.ID, occurrence), inv.InvocationKey)
	assert.Equal(t, job.ID, inv.JobID)
	assert.Equal(t, job.ProjectID, inv.ProjectID)
	assert.Equal(t, job.InvocationPath, inv.InvocationPath)
	assert.Equal(t, job.TimeoutSeconds, inv.TimeoutSeconds)
	assert.Equal(t, 3, inv.AttemptsAllowed)
}

func TestNewManualInvocationKeysAreUnique(t *testing.T) {
	job := validJob()
	a := NewManualInvocation(job)
	b := NewManualInvocation(job)
	assert.NotEqual(t, a.InvocationKey, b.InvocationKey)
	assert.Equal(t, job.AttemptsAllowed(), a.AttemptsAllowed)
}
