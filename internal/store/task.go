package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// TaskStore defines the interface for task persistence and the atomic
// coordination operations workers rely on. The store is the single source of
// truth and the only synchronization primitive between workers: every write to
// a task row is conditional on its previously observed state.
type TaskStore interface {
	// CreateTasks inserts the given tasks in one statement. The unique
	// constraint on (job_id, sequence) makes re-planning a job idempotent:
	// inserting an already-planned task set returns ErrDuplicate.
	CreateTasks(ctx context.Context, tasks []*domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByJob retrieves all tasks for a job ordered by sequence.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error)

	// ListByJobAndType retrieves a job's tasks of one type ordered by sequence.
	ListByJobAndType(ctx context.Context, jobID uuid.UUID, taskType domain.TaskType) ([]*domain.Task, error)

	// Claim atomically transitions exactly one pending task of one of the
	// given types to claimed-by-workerID, preferring the lowest sequence
	// number. Claiming consumes one attempt. Returns ErrNoTaskAvailable when
	// no pending task matches; losing a race to another worker is
	// indistinguishable from an empty queue and is not an error.
	Claim(ctx context.Context, workerID string, types []domain.TaskType) (*domain.Task, error)

	// MarkProcessing transitions a claimed task to processing. Conditional on
	// the task still being claimed by workerID; returns ErrNotOwner otherwise.
	MarkProcessing(ctx context.Context, taskID uuid.UUID, workerID string) error

	// Heartbeat bumps the task's heartbeat timestamp so the timeout monitor
	// knows the worker is still alive. Conditional on ownership.
	Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) error

	// Complete transitions an owned task to completed and stamps completed_at.
	// Conditional on ownership; returns ErrNotOwner if the task was reclaimed.
	Complete(ctx context.Context, taskID uuid.UUID, workerID string) error

	// FailPermanently transitions an owned task to failed with the given
	// error message. The task stays failed until an explicit Retry.
	FailPermanently(ctx context.Context, taskID uuid.UUID, workerID string, errMsg string) error

	// ReturnForRetry puts an owned task back to pending after a transient
	// executor failure, recording the error message for diagnostics. The
	// attempt already consumed by the claim stays counted.
	ReturnForRetry(ctx context.Context, taskID uuid.UUID, workerID string, errMsg string) error

	// ListStale returns claimed or processing tasks whose heartbeat is older
	// than their type-specific timeout.
	ListStale(ctx context.Context) ([]*domain.Task, error)

	// ResetStale returns an abandoned task to pending, clearing ownership.
	// The reset is a compare-and-set on the heartbeat timestamp observed by
	// ListStale; returns ErrStaleTask if the row changed in the meantime
	// (e.g. the worker finished just before the sweep).
	ResetStale(ctx context.Context, taskID uuid.UUID, observedHeartbeatAt time.Time) error

	// FailStale terminally fails an abandoned task that has exhausted its
	// attempts, guarded by the same compare-and-set as ResetStale.
	FailStale(ctx context.Context, taskID uuid.UUID, observedHeartbeatAt time.Time, errMsg string) error

	// InsertFanout inserts the derived task set for a job exactly once. The
	// first caller wins the (job_id) derivation marker and inserts the tasks;
	// every later caller gets inserted=false and no rows are written. Safe to
	// evaluate concurrently from workers finishing at nearly the same instant.
	// The task insert skips rows whose (job_id, sequence) slot already exists,
	// so re-evaluation after ClearFanout adds only the missing tasks.
	InsertFanout(ctx context.Context, jobID uuid.UUID, tasks []*domain.Task) (inserted bool, err error)

	// ClearFanout removes a job's derivation marker so the fan-out rule is
	// evaluated again the next time a leaf finalizes. Called when a failed
	// leaf is retried after fan-out already fired; without it the retried
	// leaf's derived tasks would never be inserted.
	ClearFanout(ctx context.Context, jobID uuid.UUID) error

	// StatsByJob returns per-type, per-status task counts for a job. The
	// progress aggregator derives job status and percent from these counts
	// alone, with no separate counters to keep in sync.
	StatsByJob(ctx context.Context, jobID uuid.UUID) (JobTaskStats, error)

	// CancelActive fails every non-terminal task of a job with the given
	// reason and returns how many rows were affected. In-flight executions
	// are not interrupted; their results are discarded on finalize.
	CancelActive(ctx context.Context, jobID uuid.UUID, reason string) (int64, error)

	// Retry is the explicit, auditable action that moves a terminally failed
	// task back to pending, granting it a fresh round of attempts.
	Retry(ctx context.Context, taskID uuid.UUID) error

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// TaskStatusCount is one cell of a job's task-count matrix.
type TaskStatusCount struct {
	Type   domain.TaskType
	Status domain.TaskStatus
	Count  int
}

// JobTaskStats summarizes a job's tasks by type and status.
type JobTaskStats struct {
	Counts []TaskStatusCount
}

// Total returns the number of tasks in the job.
func (s JobTaskStats) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c.Count
	}
	return n
}

// Completed returns the number of completed tasks.
func (s JobTaskStats) Completed() int {
	return s.withStatus(domain.TaskStatusCompleted)
}

// Failed returns the number of failed tasks.
func (s JobTaskStats) Failed() int {
	return s.withStatus(domain.TaskStatusFailed)
}

// Terminal returns the number of tasks in a terminal state.
func (s JobTaskStats) Terminal() int {
	return s.Completed() + s.Failed()
}

// Claimed returns the number of tasks currently held by a worker.
func (s JobTaskStats) Claimed() int {
	return s.withStatus(domain.TaskStatusClaimed) + s.withStatus(domain.TaskStatusProcessing)
}

// TotalOfType returns the number of tasks of one type.
func (s JobTaskStats) TotalOfType(t domain.TaskType) int {
	n := 0
	for _, c := range s.Counts {
		if c.Type == t {
			n += c.Count
		}
	}
	return n
}

// CountOf returns the number of tasks of one type in one status.
func (s JobTaskStats) CountOf(t domain.TaskType, st domain.TaskStatus) int {
	n := 0
	for _, c := range s.Counts {
		if c.Type == t && c.Status == st {
			n += c.Count
		}
	}
	return n
}

// TerminalOfType returns the number of terminal tasks of one type.
func (s JobTaskStats) TerminalOfType(t domain.TaskType) int {
	return s.CountOf(t, domain.TaskStatusCompleted) + s.CountOf(t, domain.TaskStatusFailed)
}

func (s JobTaskStats) withStatus(st domain.TaskStatus) int {
	n := 0
	for _, c := range s.Counts {
		if c.Status == st {
			n += c.Count
		}
	}
	return n
}
