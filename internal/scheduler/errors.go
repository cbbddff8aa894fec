package scheduler

import "errors"

var (
	// ErrJobNotFound is returned when a job definition does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobDisabled is returned when a disabled job is triggered manually
	ErrJobDisabled = errors.New("job is disabled")
)
