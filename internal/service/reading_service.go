// Package service exposes the job-level operations the API layer calls:
// submitting a reading job, inspecting it, cancelling it, and retrying a
// failed task. Each operation runs its store writes in one transaction.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/events"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// TxRunner executes fn within one atomic unit. Production wires it to
// store.RunInTransaction; tests pass the function straight through.
type TxRunner func(ctx context.Context, fn store.TxFn) error

// ReadingService orchestrates the job lifecycle over the stores and the
// pipeline coordinator.
type ReadingService struct {
	runTx   TxRunner
	jobs    store.JobStore
	tasks   store.TaskStore
	coord   *pipeline.Coordinator
	emitter events.Emitter
	logger  *slog.Logger
}

// NewReadingService creates a ReadingService.
func NewReadingService(
	runTx TxRunner,
	jobs store.JobStore,
	tasks store.TaskStore,
	coord *pipeline.Coordinator,
	emitter events.Emitter,
	logger *slog.Logger,
) (*ReadingService, error) {
	if runTx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if jobs == nil || tasks == nil {
		return nil, errors.New("job and task stores are required")
	}
	if coord == nil {
		return nil, errors.New("pipeline coordinator is required")
	}
	if emitter == nil {
		return nil, errors.New("event emitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadingService{
		runTx:   runTx,
		jobs:    jobs,
		tasks:   tasks,
		coord:   coord,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "reading_service")),
	}, nil
}

// EnqueueJob validates and persists a new job, then emits a job-enqueued
// event so the planner creates its initial task list. The job row commits
// before the event fires: a client polling immediately sees the job as queued
// even if planning has not happened yet.
func (s *ReadingService) EnqueueJob(ctx context.Context, jobType domain.JobType, params domain.JobParams) (*domain.Job, error) {
	job, err := domain.NewJob(jobType, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobRequest, err)
	}

	err = s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.jobs.WithTx(tx).Create(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID,
		"job_type", job.Type,
		"subjects", len(params.Subjects),
		"systems", len(params.Systems))

	if err := s.emitter.EmitJobEnqueued(ctx, events.NewJobEnqueuedEvent(job)); err != nil {
		// The job row exists; planning is idempotent and can be driven again
		// by resubmitting the event. Surface the failure to the caller.
		return nil, fmt.Errorf("plan job %s: %w", job.ID, err)
	}

	return s.GetJob(ctx, job.ID)
}

// GetJob returns the current state of a job.
func (s *ReadingService) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// CancelJob stops an active job: every non-terminal task is failed with a
// cancellation reason and the job moves to the error state. Results produced
// before the cancel remain listed. Cancelling a terminal job returns
// ErrJobTerminal.
func (s *ReadingService) CancelJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	var cancelled int64
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		jobs := s.jobs.WithTx(tx)
		tasks := s.tasks.WithTx(tx)

		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusError {
			return ErrJobTerminal
		}

		cancelled, err = tasks.CancelActive(ctx, jobID, "cancelled by user")
		if err != nil {
			return fmt.Errorf("cancel active tasks: %w", err)
		}

		// Folding the now-failed tasks into the job marks it as errored and
		// attaches whatever results completed before the cancel.
		if err := s.coord.WithTx(tx).TaskFinalized(ctx, jobID); err != nil {
			return fmt.Errorf("finalize cancelled job: %w", err)
		}

		// A job cancelled before planning has no tasks to fold; mark it
		// errored directly.
		refreshed, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if refreshed.Status != domain.JobStatusError {
			refreshed.Status = domain.JobStatusError
			refreshed.ErrorMessage = "cancelled by user"
			if err := jobs.UpdateProgress(ctx, refreshed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job cancelled",
		"job_id", jobID,
		"tasks_cancelled", cancelled)

	return s.GetJob(ctx, jobID)
}

// RetryTask moves a failed task back to pending with a fresh round of
// attempts and reopens its job if the job had already errored. This is the
// only path out of a terminal state.
func (s *ReadingService) RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.Job, error) {
	var jobID uuid.UUID
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		jobs := s.jobs.WithTx(tx)
		tasks := s.tasks.WithTx(tx)

		task, err := tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.TaskStatusFailed {
			return fmt.Errorf("%w: task %s is %s", ErrTaskNotRetryable, task.ID, task.Status)
		}
		jobID = task.JobID

		if err := tasks.Retry(ctx, taskID); err != nil {
			return fmt.Errorf("retry task: %w", err)
		}
		if task.Type == domain.TaskTypeText {
			// Fan-out already fired with this leaf contributing nothing.
			// Dropping the marker lets the rule run again when the leaf
			// finalizes; the slots inserted the first time are untouched.
			if err := tasks.ClearFanout(ctx, jobID); err != nil {
				return fmt.Errorf("clear fanout marker: %w", err)
			}
		}
		if err := jobs.Reopen(ctx, jobID); err != nil {
			return fmt.Errorf("reopen job: %w", err)
		}

		// Recompute the advisory progress now that one terminal task is
		// pending again.
		stats, err := tasks.StatsByJob(ctx, jobID)
		if err != nil {
			return err
		}
		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		job.Progress = pipeline.Aggregate(stats)
		return jobs.UpdateProgress(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task retried",
		"task_id", taskID,
		"job_id", jobID)

	return s.GetJob(ctx, jobID)
}
