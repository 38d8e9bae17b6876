package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/logger"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore
// interface. It accepts a database connection or transaction that should be
// initialized and managed by the caller. If logger is nil, a default logger
// will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// WithTx implements store.JobStore.WithTx
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.JobStore.Create
// It saves a new job to the database, handling domain validation.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal job params: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	query := `
		INSERT INTO jobs (id, job_type, status, params, progress, results,
			partial_results, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Type,
		job.Status,
		params,
		progress,
		results,
		job.PartialResults,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)))
	return nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.getByID(ctx, id, "")
}

// GetByIDForUpdate implements store.JobStore.GetByIDForUpdate
// Outside a transaction the lock is released immediately and this degrades to
// a plain read; callers that need the serialization must be tx-bound.
func (s *PostgresJobStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.getByID(ctx, id, "FOR UPDATE")
}

func (s *PostgresJobStore) getByID(ctx context.Context, id uuid.UUID, lock string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, job_type, status, params, progress, results,
			partial_results, error_message, created_at, updated_at
		FROM jobs
		WHERE id = $1
	` + lock

	var (
		job      domain.Job
		params   []byte
		progress []byte
		results  []byte
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&params,
		&progress,
		&results,
		&job.PartialResults,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, MapError(err)
	}

	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job params: %w", err)
	}
	if err := json.Unmarshal(progress, &job.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job progress: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job results: %w", err)
		}
	}

	return &job, nil
}

// UpdateProgress implements store.JobStore.UpdateProgress
// The write is conditional: a row already in a terminal state is only touched
// when the status is unchanged, so completed and error are final.
func (s *PostgresJobStore) UpdateProgress(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $2, progress = $3, results = $4,
			partial_results = $5, error_message = $6, updated_at = $7
		WHERE id = $1
		  AND (status NOT IN ('completed', 'error') OR status = $2)
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Status,
		progress,
		results,
		job.PartialResults,
		job.ErrorMessage,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to update job progress",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Either the job does not exist or it is already terminal with a
		// different status. The latter is a benign race with another writer.
		existing, getErr := s.GetByID(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		log.Warn("job progress update skipped, job already terminal",
			slog.String("job_id", job.ID.String()),
			slog.String("current_status", string(existing.Status)),
			slog.String("attempted_status", string(job.Status)))
		return nil
	}

	return nil
}

// Reopen implements store.JobStore. The update only matches rows in the
// error state, so reopening a completed or active job changes nothing.
func (s *PostgresJobStore) Reopen(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = 'processing', error_message = '', results = 'null',
			partial_results = FALSE, updated_at = $2
		WHERE id = $1 AND status = 'error'
	`
	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		log.Error("failed to reopen job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Confirm the job exists; a non-error status is a no-op.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return nil
	}

	log.Debug("job reopened", slog.String("job_id", id.String()))
	return nil
}
