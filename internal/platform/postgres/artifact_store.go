package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/logger"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// PostgresArtifactStore implements the store.ArtifactStore interface using
// PostgreSQL. Artifact rows are append-only.
type PostgresArtifactStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresArtifactStore creates a new PostgresArtifactStore.
// If logger is nil, a default logger will be used.
func NewPostgresArtifactStore(db store.DBTX, logger *slog.Logger) *PostgresArtifactStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresArtifactStore{
		db:     db,
		logger: logger.With(slog.String("component", "artifact_store")),
	}
}

// Ensure PostgresArtifactStore implements store.ArtifactStore interface
var _ store.ArtifactStore = (*PostgresArtifactStore)(nil)

// WithTx implements store.ArtifactStore.WithTx
func (s *PostgresArtifactStore) WithTx(tx *sql.Tx) store.ArtifactStore {
	return &PostgresArtifactStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.ArtifactStore.Create
func (s *PostgresArtifactStore) Create(ctx context.Context, artifact *domain.Artifact) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	meta, err := json.Marshal(artifact.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact meta: %w", err)
	}

	query := `
		INSERT INTO artifacts (id, job_id, task_id, artifact_type, storage_key, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		artifact.ID,
		artifact.JobID,
		artifact.TaskID,
		artifact.Type,
		artifact.StorageKey,
		meta,
		artifact.CreatedAt,
	)
	if err != nil {
		log.Error("failed to insert artifact",
			slog.String("error", err.Error()),
			slog.String("artifact_id", artifact.ID.String()))
		return MapError(err)
	}

	log.Debug("artifact created",
		slog.String("artifact_id", artifact.ID.String()),
		slog.String("artifact_type", string(artifact.Type)),
		slog.String("storage_key", artifact.StorageKey))
	return nil
}

// GetByTaskID implements store.ArtifactStore.GetByTaskID
func (s *PostgresArtifactStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Artifact, error) {
	query := `
		SELECT id, job_id, task_id, artifact_type, storage_key, meta, created_at
		FROM artifacts
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	artifact, err := scanArtifact(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrArtifactNotFound
		}
		return nil, MapError(err)
	}
	return artifact, nil
}

// ListByJob implements store.ArtifactStore.ListByJob
func (s *PostgresArtifactStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Artifact, error) {
	query := `
		SELECT id, job_id, task_id, artifact_type, storage_key, meta, created_at
		FROM artifacts
		WHERE job_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []*domain.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact rows: %w", err)
	}

	return artifacts, nil
}

// scanArtifact scans one artifact row.
func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var (
		artifact domain.Artifact
		meta     []byte
	)

	err := row.Scan(
		&artifact.ID,
		&artifact.JobID,
		&artifact.TaskID,
		&artifact.Type,
		&artifact.StorageKey,
		&meta,
		&artifact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(meta, &artifact.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact meta: %w", err)
	}

	return &artifact, nil
}
