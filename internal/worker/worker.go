package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/generation"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/metrics"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// TxRunner executes fn within one atomic unit. Production wires it to
// store.RunInTransaction over the shared pool; tests substitute a
// pass-through so in-memory stores can be used.
type TxRunner func(ctx context.Context, fn store.TxFn) error

// Config holds configuration for a worker process.
type Config struct {
	// ID is the worker identity written to claimed task rows. Defaults to
	// hostname plus a random suffix.
	ID string

	// Concurrency determines how many claim loops run in parallel.
	Concurrency int

	// HeartbeatInterval is how often an executing task's heartbeat is bumped.
	// Must be well under the shortest per-type heartbeat timeout.
	HeartbeatInterval time.Duration

	// PollBackoff controls the idle delay between empty claim attempts.
	PollBackoff BackoffPolicy
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		ID:                defaultWorkerID(),
		Concurrency:       2,
		HeartbeatInterval: 15 * time.Second,
		PollBackoff:       DefaultBackoffPolicy(),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Worker claims tasks, dispatches them to executors, and finalizes the
// outcome. Any number of workers can run against the same database; the
// store's claim protocol is the only coordination between them.
type Worker struct {
	cfg       Config
	tasks     store.TaskStore
	artifacts store.ArtifactStore
	coord     *pipeline.Coordinator
	executors generation.Registry
	runTx     TxRunner
	recorder  *metrics.Recorder
	logger    *slog.Logger
}

// New creates a Worker.
// If logger is nil, a default logger will be used.
func New(
	cfg Config,
	tasks store.TaskStore,
	artifacts store.ArtifactStore,
	coord *pipeline.Coordinator,
	executors generation.Registry,
	runTx TxRunner,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) (*Worker, error) {
	if tasks == nil || artifacts == nil || coord == nil {
		return nil, errors.New("worker requires task store, artifact store, and coordinator")
	}
	if len(executors) == 0 {
		return nil, errors.New("worker requires at least one executor")
	}
	if runTx == nil {
		return nil, errors.New("worker requires a transaction runner")
	}
	if cfg.ID == "" {
		cfg.ID = defaultWorkerID()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.PollBackoff.Initial <= 0 {
		cfg.PollBackoff = DefaultBackoffPolicy()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		cfg:       cfg,
		tasks:     tasks,
		artifacts: artifacts,
		coord:     coord,
		executors: executors,
		runTx:     runTx,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "worker"), slog.String("worker_id", cfg.ID)),
	}, nil
}

// Run starts the claim loops and blocks until ctx is cancelled and in-flight
// tasks have finalized.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Any("task_types", w.executors.Types()))

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			w.claimLoop(ctx, loop)
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// claimLoop polls for work until ctx is cancelled, backing off while the
// queue is empty.
func (w *Worker) claimLoop(ctx context.Context, loop int) {
	idle := 0
	for {
		if ctx.Err() != nil {
			return
		}

		worked, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("claim loop error",
				slog.Int("loop", loop),
				slog.String("error", err.Error()))
		}
		if worked {
			idle = 0
			continue
		}

		idle++
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollBackoff.Delay(idle)):
		}
	}
}

// ProcessOne claims and processes a single task. Returns false when no task
// was available.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.tasks.Claim(ctx, w.cfg.ID, w.executors.Types())
	if err != nil {
		if errors.Is(err, store.ErrNoTaskAvailable) {
			w.recorder.RecordEmptyClaim()
			return false, nil
		}
		return false, fmt.Errorf("claim failed: %w", err)
	}

	w.recorder.RecordClaim(string(task.Type))
	w.process(ctx, task)
	return true, nil
}

// process runs one claimed task through execution and finalization.
func (w *Worker) process(ctx context.Context, task *domain.Task) {
	log := w.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("job_id", task.JobID.String()),
		slog.Int("attempt", task.AttemptCount))

	// Finalization writes must land even when the worker is shutting down
	// mid-execution.
	finCtx := context.WithoutCancel(ctx)

	if err := w.tasks.MarkProcessing(ctx, task.ID, w.cfg.ID); err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			log.Warn("task reclaimed before processing started")
			return
		}
		log.Error("failed to mark task processing", slog.String("error", err.Error()))
		return
	}

	if err := w.coord.TaskStarted(ctx, task.JobID); err != nil {
		log.Warn("failed to mark job processing", slog.String("error", err.Error()))
	}

	log.Info("executing task")

	// The heartbeat goroutine cancels execution if the monitor reclaims the
	// task out from under us.
	execCtx, cancelExec := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go w.heartbeat(execCtx, cancelExec, task, hbDone)

	start := time.Now()
	result, execErr := w.executors[task.Type].Execute(execCtx, task)
	cancelExec()
	<-hbDone
	elapsed := time.Since(start)

	if execErr != nil {
		w.finalizeFailure(finCtx, ctx, task, execErr, elapsed, log)
		return
	}
	w.finalizeSuccess(finCtx, task, result, elapsed, log)
}

// heartbeat bumps the task's heartbeat until execution ends. Losing ownership
// cancels the execution context so the executor aborts instead of completing
// a task that now belongs to someone else.
func (w *Worker) heartbeat(ctx context.Context, cancelExec context.CancelFunc, task *domain.Task, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.tasks.Heartbeat(ctx, task.ID, w.cfg.ID)
			if err == nil {
				continue
			}
			if errors.Is(err, store.ErrNotOwner) || errors.Is(err, store.ErrTaskNotFound) {
				w.logger.Warn("task reclaimed mid-execution, aborting",
					slog.String("task_id", task.ID.String()))
				cancelExec()
				return
			}
			w.logger.Error("heartbeat failed",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// finalizeSuccess records the artifact, completes the task, and evaluates the
// fan-out rule, all in one transaction with the terminal write.
func (w *Worker) finalizeSuccess(
	ctx context.Context,
	task *domain.Task,
	result *generation.Result,
	elapsed time.Duration,
	log *slog.Logger,
) {
	artifact, err := artifactFor(task, result)
	if err != nil {
		log.Error("failed to build artifact", slog.String("error", err.Error()))
		w.recorder.RecordExecution(string(task.Type), "failed", elapsed)
		return
	}

	err = w.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := w.artifacts.WithTx(tx).Create(ctx, artifact); err != nil {
			return err
		}
		if err := w.tasks.WithTx(tx).Complete(ctx, task.ID, w.cfg.ID); err != nil {
			return err
		}
		return w.coord.WithTx(tx).TaskFinalized(ctx, task.JobID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			// The monitor reclaimed the task while we were finishing; the
			// result is discarded and the re-claimed run produces a new one.
			log.Warn("task reclaimed before completion, result discarded")
			return
		}
		log.Error("failed to finalize completed task", slog.String("error", err.Error()))
		return
	}

	w.recorder.RecordExecution(string(task.Type), "completed", elapsed)
	log.Info("task completed",
		slog.String("storage_key", result.StorageKey),
		slog.Duration("elapsed", elapsed))
}

// finalizeFailure returns a transiently failed task to pending, or fails it
// permanently when attempts are exhausted or the error is non-retryable.
func (w *Worker) finalizeFailure(
	ctx context.Context,
	execCtx context.Context,
	task *domain.Task,
	execErr error,
	elapsed time.Duration,
	log *slog.Logger,
) {
	// Shutdown mid-execution is not the task's fault: hand it back without
	// judging the attempt.
	if errors.Is(execErr, context.Canceled) && execCtx.Err() != nil {
		if err := w.tasks.ReturnForRetry(ctx, task.ID, w.cfg.ID, "worker shut down during execution"); err != nil &&
			!errors.Is(err, store.ErrNotOwner) {
			log.Error("failed to return task on shutdown", slog.String("error", err.Error()))
		}
		return
	}

	permanent := generation.IsPermanent(execErr) || task.AttemptCount >= task.MaxAttempts
	if !permanent {
		log.Warn("task failed, returning for retry",
			slog.String("error", execErr.Error()),
			slog.Int("attempt", task.AttemptCount),
			slog.Int("max_attempts", task.MaxAttempts))
		if err := w.tasks.ReturnForRetry(ctx, task.ID, w.cfg.ID, execErr.Error()); err != nil &&
			!errors.Is(err, store.ErrNotOwner) {
			log.Error("failed to return task for retry", slog.String("error", err.Error()))
		}
		w.recorder.RecordExecution(string(task.Type), "retried", elapsed)
		return
	}

	log.Error("task failed permanently",
		slog.String("error", execErr.Error()),
		slog.Int("attempt", task.AttemptCount))

	err := w.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := w.tasks.WithTx(tx).FailPermanently(ctx, task.ID, w.cfg.ID, execErr.Error()); err != nil {
			return err
		}
		return w.coord.WithTx(tx).TaskFinalized(ctx, task.JobID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			log.Warn("task reclaimed before permanent failure recorded")
			return
		}
		log.Error("failed to finalize failed task", slog.String("error", err.Error()))
		return
	}

	w.recorder.RecordExecution(string(task.Type), "failed", elapsed)
}

// artifactFor builds the artifact row for a completed task.
func artifactFor(task *domain.Task, result *generation.Result) (*domain.Artifact, error) {
	artifactType, err := domain.ArtifactTypeForTask(task.Type)
	if err != nil {
		return nil, err
	}

	payload, err := task.DecodePayload()
	if err != nil {
		return nil, err
	}

	return domain.NewArtifact(task.JobID, task.ID, artifactType, result.StorageKey, domain.ArtifactMeta{
		DocumentNumber: task.Sequence,
		Role:           payload.Role,
		System:         payload.System,
	})
}
