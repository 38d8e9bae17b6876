package service

import "errors"

// Service-level errors mapped to HTTP responses by the API layer.
var (
	// ErrJobTerminal indicates an action that requires an active job was
	// attempted on a completed or errored job.
	ErrJobTerminal = errors.New("job is already in a terminal state")

	// ErrTaskNotRetryable indicates a retry was requested for a task that is
	// not in the failed state.
	ErrTaskNotRetryable = errors.New("task is not in a retryable state")

	// ErrInvalidJobRequest indicates the submitted job parameters failed
	// validation.
	ErrInvalidJobRequest = errors.New("invalid job request")
)
