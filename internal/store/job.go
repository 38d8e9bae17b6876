package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// JobStore defines the interface for job data persistence.
type JobStore interface {
	// Create saves a new job to the store.
	// Returns ErrDuplicate if a job with the same ID already exists.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetByIDForUpdate retrieves a job and, when the store is bound to a
	// transaction, row-locks it until the transaction ends. Finalizers take
	// this lock before reading task counts so two workers finishing the last
	// two tasks of a job evaluate the fan-out rule one after the other, not
	// against each other's uncommitted writes.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// UpdateProgress writes the job's status, progress summary, results, and
	// error fields. The update is conditional: rows already in a terminal
	// state are only written when the status is unchanged, so a job never
	// leaves completed or error through this path.
	UpdateProgress(ctx context.Context, job *domain.Job) error

	// Reopen moves a job from the error state back to processing and clears
	// its error and result fields. It is the only path out of a terminal
	// state and exists for the explicit task-retry action. Reopening a job
	// that is not in the error state is a no-op.
	Reopen(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) JobStore
}
