package generation

import (
	"context"
	"errors"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// Result is the output of one task execution: where the produced content was
// stored. The worker turns it into an artifact row.
type Result struct {
	StorageKey string
}

// Executor produces the artifact for one task type. Implementations must
// respect context cancellation: a cancelled job stops pulling work, and
// in-flight executions are expected to abort at the next provider call.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (*Result, error)
}

// Registry maps task types to their executors. A worker only claims the types
// it has executors for.
type Registry map[domain.TaskType]Executor

// Types returns the task types the registry can execute.
func (r Registry) Types() []domain.TaskType {
	types := make([]domain.TaskType, 0, len(r))
	for _, t := range domain.AllTaskTypes {
		if _, ok := r[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// permanentError marks a failure that retrying cannot fix, such as a provider
// rejecting the content of a prompt. The worker fails the task immediately
// instead of burning the remaining attempts.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
