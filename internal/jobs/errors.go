package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
// These can be checked with errors.Is().
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotQueued      = errors.New("job is not queued")
	ErrJobActive         = errors.New("job is being processed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSettings   = errors.New("invalid job settings")
)

// jobNotFoundError returns a wrapped error for a missing job.
func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// notQueuedError returns a wrapped error for a job past the queued state.
func notQueuedError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ErrJobNotQueued, status, id)
}

// activeJobError returns a wrapped error for an operation that requires
// the job not to be mid-pipeline.
func activeJobError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ErrJobActive, status, id)
}

// transitionError returns a wrapped error for a disallowed status change.
func transitionError(id string, from, to Status) error {
	return fmt.Errorf("%w: %s -> %s: %s", ErrInvalidTransition, from, to, id)
}
