package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// ArtifactStore defines the interface for artifact row persistence. The rows
// index blobs written to the artifact blob store; rows are append-only.
type ArtifactStore interface {
	// Create saves a new artifact row.
	Create(ctx context.Context, artifact *domain.Artifact) error

	// GetByTaskID retrieves the newest artifact produced by a task.
	// Returns ErrArtifactNotFound if the task has produced none.
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Artifact, error)

	// ListByJob retrieves all artifacts of a job, oldest first.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Artifact, error)

	// WithTx returns a new ArtifactStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ArtifactStore
}
