package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/events"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// PlannerBridge handles job-enqueued events by planning the job's initial
// task list inside one transaction. Planning is idempotent: replanning an
// already-planned job changes nothing, so redelivered events are harmless.
type PlannerBridge struct {
	runTx  TxRunner
	jobs   store.JobStore
	coord  *pipeline.Coordinator
	logger *slog.Logger
}

// NewPlannerBridge creates a PlannerBridge.
func NewPlannerBridge(runTx TxRunner, jobs store.JobStore, coord *pipeline.Coordinator, logger *slog.Logger) (*PlannerBridge, error) {
	if runTx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if jobs == nil {
		return nil, errors.New("job store is required")
	}
	if coord == nil {
		return nil, errors.New("pipeline coordinator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlannerBridge{
		runTx:  runTx,
		jobs:   jobs,
		coord:  coord,
		logger: logger.With(slog.String("component", "planner_bridge")),
	}, nil
}

var _ events.Handler = (*PlannerBridge)(nil)

// HandleJobEnqueued implements events.Handler.
func (b *PlannerBridge) HandleJobEnqueued(ctx context.Context, event *events.JobEnqueuedEvent) error {
	err := b.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		job, err := b.jobs.WithTx(tx).GetByID(ctx, event.JobID)
		if err != nil {
			return err
		}
		return b.coord.WithTx(tx).PlanJob(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("plan job %s: %w", event.JobID, err)
	}

	b.logger.DebugContext(ctx, "job planned",
		"job_id", event.JobID,
		"job_type", event.JobType)
	return nil
}
