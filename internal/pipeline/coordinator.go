package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// Coordinator ties the planner, the fan-out rule, and the progress aggregator
// to the stores. It holds no state of its own: every decision is recomputed
// from task rows, so any number of workers can run the same evaluation
// concurrently and the store-level guards decide who wins.
type Coordinator struct {
	jobs      store.JobStore
	tasks     store.TaskStore
	artifacts store.ArtifactStore
	settings  Settings
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator over the given stores.
// If logger is nil, a default logger will be used.
func NewCoordinator(
	jobs store.JobStore,
	tasks store.TaskStore,
	artifacts store.ArtifactStore,
	settings Settings,
	logger *slog.Logger,
) (*Coordinator, error) {
	if jobs == nil || tasks == nil || artifacts == nil {
		return nil, errors.New("coordinator requires job, task, and artifact stores")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline settings: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		jobs:      jobs,
		tasks:     tasks,
		artifacts: artifacts,
		settings:  settings,
		logger:    logger.With(slog.String("component", "pipeline")),
	}, nil
}

// WithTx returns a Coordinator whose stores are bound to the given
// transaction. Used by the worker finalize path so the fan-out marker, derived
// rows, and progress fold commit atomically with the task's terminal write.
func (c *Coordinator) WithTx(tx *sql.Tx) *Coordinator {
	return &Coordinator{
		jobs:      c.jobs.WithTx(tx),
		tasks:     c.tasks.WithTx(tx),
		artifacts: c.artifacts.WithTx(tx),
		settings:  c.settings,
		logger:    c.logger,
	}
}

// PlanJob inserts the leaf task set for a job. Idempotent: planning a job that
// already has tasks hits the (job_id, sequence) constraint and is treated as
// already planned.
func (c *Coordinator) PlanJob(ctx context.Context, job *domain.Job) error {
	leaves, err := PlanLeafTasks(job, c.settings)
	if err != nil {
		return err
	}

	if err := c.tasks.CreateTasks(ctx, leaves); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.logger.Debug("job already planned",
				slog.String("job_id", job.ID.String()))
			return nil
		}
		return fmt.Errorf("failed to insert leaf tasks: %w", err)
	}

	c.logger.Info("job planned",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.Int("leaf_count", len(leaves)))
	return nil
}

// TaskStarted flips a queued job to processing when its first task is
// claimed. Best effort: a lost race just means another claimer got there
// first.
func (c *Coordinator) TaskStarted(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		return nil
	}

	if err := job.UpdateStatus(domain.JobStatusProcessing); err != nil {
		return err
	}
	return c.jobs.UpdateProgress(ctx, job)
}

// TaskFinalized runs after any task of the job reaches a terminal state. It
// evaluates the fan-out rule, folds task counts into the job's progress, and
// moves the job to a terminal status once every task is terminal.
//
// Call it with stores bound to the same transaction that wrote the task's
// terminal state; the derivation marker then guarantees the fan-out fires
// exactly once per job no matter which of the N completions triggers it, or
// how many trigger it concurrently.
//
// The job row lock serializes concurrent finalizers of the same job. Without
// it, two workers finishing the last two tasks each read stats before the
// other's terminal write commits, and neither sees the job as ready.
func (c *Coordinator) TaskFinalized(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.jobs.GetByIDForUpdate(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		// Job was cancelled while this task was in flight. The task's own
		// terminal write already landed; the job does not change.
		return nil
	}

	stats, err := c.tasks.StatsByJob(ctx, jobID)
	if err != nil {
		return err
	}

	if ReadyForFanout(stats) {
		stats, err = c.evaluateFanout(ctx, job, stats)
		if err != nil {
			return err
		}
	}

	job.Progress = Aggregate(stats)

	status := ResolveStatus(stats)
	if status != job.Status {
		if err := job.UpdateStatus(status); err != nil {
			return err
		}
	}

	if job.IsTerminal() {
		if err := c.attachResults(ctx, job, stats); err != nil {
			return err
		}
	}

	return c.jobs.UpdateProgress(ctx, job)
}

// evaluateFanout builds and inserts the derived task set, returning refreshed
// stats when this caller won the insertion race.
func (c *Coordinator) evaluateFanout(
	ctx context.Context,
	job *domain.Job,
	stats store.JobTaskStats,
) (store.JobTaskStats, error) {
	leaves, err := c.tasks.ListByJobAndType(ctx, job.ID, domain.TaskTypeText)
	if err != nil {
		return stats, err
	}

	artifactsByTask, err := c.artifactIndex(ctx, job.ID)
	if err != nil {
		return stats, err
	}

	derived, err := BuildDerivedTasks(job, leaves, artifactsByTask, c.settings)
	if err != nil {
		return stats, err
	}

	inserted, err := c.tasks.InsertFanout(ctx, job.ID, derived)
	if err != nil {
		return stats, err
	}
	if inserted {
		c.logger.Info("fan-out inserted",
			slog.String("job_id", job.ID.String()),
			slog.Int("derived_count", len(derived)))
	}

	// Refresh even when another finalizer won the insert: our snapshot
	// predates the derived rows, and judging the job on it would declare it
	// complete with the derived work still pending.
	return c.tasks.StatsByJob(ctx, job.ID)
}

// attachResults fills the job's terminal fields from its task rows.
func (c *Coordinator) attachResults(ctx context.Context, job *domain.Job, stats store.JobTaskStats) error {
	tasks, err := c.tasks.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}

	artifactsByTask, err := c.artifactIndex(ctx, job.ID)
	if err != nil {
		return err
	}

	results, partial, err := BuildResults(tasks, artifactsByTask)
	if err != nil {
		return err
	}

	job.Results = results
	job.PartialResults = partial
	if job.Status == domain.JobStatusError && job.ErrorMessage == "" {
		job.ErrorMessage = fmt.Sprintf("%d task(s) failed permanently", stats.Failed())
	}
	return nil
}

// artifactIndex returns the newest artifact per task for a job.
func (c *Coordinator) artifactIndex(ctx context.Context, jobID uuid.UUID) (map[uuid.UUID]*domain.Artifact, error) {
	artifacts, err := c.artifacts.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// ListByJob returns oldest first, so later artifacts win.
	index := make(map[uuid.UUID]*domain.Artifact, len(artifacts))
	for _, a := range artifacts {
		index[a.TaskID] = a
	}
	return index, nil
}
