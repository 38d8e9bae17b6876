package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/metrics"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// MonitorConfig holds configuration for the timeout monitor.
type MonitorConfig struct {
	// SweepInterval is how often stale tasks are looked for.
	SweepInterval time.Duration
}

// DefaultMonitorConfig returns a MonitorConfig with reasonable defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{SweepInterval: 30 * time.Second}
}

// Monitor reclaims tasks whose worker stopped heartbeating. A task with
// attempts left goes back to pending for re-claim; one that burned its last
// attempt on the dead worker is failed permanently. Every monitor write is a
// compare-and-set on the heartbeat observed during the sweep, so a worker
// finishing between sweep and reset always wins.
type Monitor struct {
	cfg      MonitorConfig
	tasks    store.TaskStore
	coord    *pipeline.Coordinator
	runTx    TxRunner
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewMonitor creates a Monitor.
// If logger is nil, a default logger will be used.
func NewMonitor(
	cfg MonitorConfig,
	tasks store.TaskStore,
	coord *pipeline.Coordinator,
	runTx TxRunner,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) (*Monitor, error) {
	if tasks == nil || coord == nil {
		return nil, errors.New("monitor requires a task store and coordinator")
	}
	if runTx == nil {
		return nil, errors.New("monitor requires a transaction runner")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:      cfg,
		tasks:    tasks,
		coord:    coord,
		runTx:    runTx,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "timeout_monitor")),
	}, nil
}

// Run sweeps on an interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("timeout monitor starting",
		slog.Duration("sweep_interval", m.cfg.SweepInterval))

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("timeout monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep reclaims every task whose heartbeat has gone stale.
func (m *Monitor) Sweep(ctx context.Context) error {
	stale, err := m.tasks.ListStale(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stale tasks: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	m.logger.Info("found stale tasks", slog.Int("count", len(stale)))

	for _, task := range stale {
		if err := m.reclaim(ctx, task); err != nil {
			m.logger.Error("failed to reclaim stale task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// reclaim resets or permanently fails one stale task.
func (m *Monitor) reclaim(ctx context.Context, task *domain.Task) error {
	if task.HeartbeatAt == nil {
		return nil
	}
	observed := *task.HeartbeatAt

	log := m.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("abandoned_by", task.ClaimedBy),
		slog.Int("attempt", task.AttemptCount))

	if task.AttemptCount < task.MaxAttempts {
		err := m.tasks.ResetStale(ctx, task.ID, observed)
		if errors.Is(err, store.ErrStaleTask) {
			// The worker finished or heartbeat raced the sweep; nothing to do.
			return nil
		}
		if err != nil {
			return err
		}
		m.recorder.RecordReclaim(string(task.Type), "reset")
		log.Warn("stale task returned to pending")
		return nil
	}

	// No attempts left: the task becomes terminal, so the failure and the
	// job-level consequences commit together.
	msg := fmt.Sprintf("worker %s stopped heartbeating on final attempt", task.ClaimedBy)
	err := m.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := m.tasks.WithTx(tx).FailStale(ctx, task.ID, observed, msg); err != nil {
			return err
		}
		return m.coord.WithTx(tx).TaskFinalized(ctx, task.JobID)
	})
	if errors.Is(err, store.ErrStaleTask) {
		return nil
	}
	if err != nil {
		return err
	}

	m.recorder.RecordReclaim(string(task.Type), "failed")
	log.Error("stale task failed permanently")
	return nil
}
