package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/logger"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// taskColumns is the canonical select list shared by every task query.
const taskColumns = `id, job_id, task_type, sequence, status, payload,
	claimed_by, claimed_at, heartbeat_at, heartbeat_timeout_seconds,
	attempt_count, max_attempts, error_message, created_at, completed_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// All coordination operations are single conditional statements so that any
// number of workers and monitors can run against the same table safely.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// CreateTasks implements store.TaskStore.CreateTasks
// The unique constraint on (job_id, sequence) rejects duplicate planning:
// the whole insert fails with store.ErrDuplicate and writes nothing.
func (s *PostgresTaskStore) CreateTasks(ctx context.Context, tasks []*domain.Task) error {
	return s.insertTasks(ctx, tasks, "")
}

// insertTasks writes task rows, optionally with an ON CONFLICT clause. The
// fan-out path passes DO NOTHING on (job_id, sequence) so a re-evaluated
// derivation inserts only the slots that do not exist yet.
func (s *PostgresTaskStore) insertTasks(ctx context.Context, tasks []*domain.Task, onConflict string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(tasks) == 0 {
		return nil
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO tasks (id, job_id, task_type, sequence, status, payload,
			claimed_by, heartbeat_timeout_seconds, attempt_count, max_attempts,
			error_message, created_at)
		VALUES `)

	args := make([]any, 0, len(tasks)*12)
	for i, t := range tasks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 12
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12)
		args = append(args,
			t.ID,
			t.JobID,
			t.Type,
			t.Sequence,
			t.Status,
			[]byte(t.Payload),
			t.ClaimedBy,
			int64(t.HeartbeatTimeout/time.Second),
			t.AttemptCount,
			t.MaxAttempts,
			t.ErrorMessage,
			t.CreatedAt,
		)
	}

	if onConflict != "" {
		sb.WriteString(" ")
		sb.WriteString(onConflict)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		log.Error("failed to insert tasks",
			slog.String("error", err.Error()),
			slog.Int("task_count", len(tasks)))
		return MapError(err)
	}

	log.Info("tasks inserted",
		slog.String("job_id", tasks[0].JobID.String()),
		slog.Int("task_count", len(tasks)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return task, nil
}

// ListByJob implements store.TaskStore.ListByJob
func (s *PostgresTaskStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE job_id = $1 ORDER BY sequence`, taskColumns)
	return s.queryTasks(ctx, query, jobID)
}

// ListByJobAndType implements store.TaskStore.ListByJobAndType
func (s *PostgresTaskStore) ListByJobAndType(
	ctx context.Context,
	jobID uuid.UUID,
	taskType domain.TaskType,
) ([]*domain.Task, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE job_id = $1 AND task_type = $2 ORDER BY sequence`,
		taskColumns)
	return s.queryTasks(ctx, query, jobID, taskType)
}

// Claim implements store.TaskStore.Claim
// The inner SELECT ... FOR UPDATE SKIP LOCKED lets concurrent claimers pass
// over rows another transaction is claiming instead of blocking on them, so
// no two workers ever receive the same task and an empty scan simply returns
// ErrNoTaskAvailable.
func (s *PostgresTaskStore) Claim(
	ctx context.Context,
	workerID string,
	types []domain.TaskType,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if workerID == "" {
		return nil, fmt.Errorf("%w: worker ID cannot be empty", store.ErrInvalidEntity)
	}
	if len(types) == 0 {
		types = domain.AllTaskTypes
	}

	placeholders := make([]string, len(types))
	args := make([]any, 0, len(types)+1)
	args = append(args, workerID)
	for i, t := range types {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, t)
	}

	query := fmt.Sprintf(`
		UPDATE tasks
		SET status = 'claimed',
			claimed_by = $1,
			claimed_at = now(),
			heartbeat_at = now(),
			attempt_count = attempt_count + 1
		WHERE id = (
			SELECT id
			FROM tasks
			WHERE status = 'pending' AND task_type IN (%s)
			ORDER BY sequence
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s`,
		strings.Join(placeholders, ", "), taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNoTaskAvailable
		}
		log.Error("claim query failed",
			slog.String("error", err.Error()),
			slog.String("worker_id", workerID))
		return nil, MapError(err)
	}

	log.Debug("task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("worker_id", workerID),
		slog.Int("attempt", task.AttemptCount))
	return task, nil
}

// MarkProcessing implements store.TaskStore.MarkProcessing
func (s *PostgresTaskStore) MarkProcessing(ctx context.Context, taskID uuid.UUID, workerID string) error {
	query := `
		UPDATE tasks
		SET status = 'processing'
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
	`
	return s.execOwned(ctx, query, taskID, workerID)
}

// Heartbeat implements store.TaskStore.Heartbeat
func (s *PostgresTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) error {
	query := `
		UPDATE tasks
		SET heartbeat_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'processing')
	`
	return s.execOwned(ctx, query, taskID, workerID)
}

// Complete implements store.TaskStore.Complete
func (s *PostgresTaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string) error {
	query := `
		UPDATE tasks
		SET status = 'completed', error_message = '', completed_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'processing')
	`
	return s.execOwned(ctx, query, taskID, workerID)
}

// FailPermanently implements store.TaskStore.FailPermanently
func (s *PostgresTaskStore) FailPermanently(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	errMsg string,
) error {
	query := `
		UPDATE tasks
		SET status = 'failed', error_message = $3, completed_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'processing')
	`
	return s.execOwned(ctx, query, taskID, workerID, errMsg)
}

// ReturnForRetry implements store.TaskStore.ReturnForRetry
func (s *PostgresTaskStore) ReturnForRetry(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	errMsg string,
) error {
	query := `
		UPDATE tasks
		SET status = 'pending', claimed_by = '', claimed_at = NULL,
			heartbeat_at = NULL, error_message = $3
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'processing')
	`
	return s.execOwned(ctx, query, taskID, workerID, errMsg)
}

// ListStale implements store.TaskStore.ListStale
// A task is stale when its heartbeat is older than its own type-specific
// timeout, evaluated row by row so short render tasks and long synthesis
// tasks can carry very different timeouts.
func (s *PostgresTaskStore) ListStale(ctx context.Context) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE status IN ('claimed', 'processing')
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < now() - make_interval(secs => heartbeat_timeout_seconds)
		ORDER BY heartbeat_at`, taskColumns)
	return s.queryTasks(ctx, query)
}

// ResetStale implements store.TaskStore.ResetStale
// The compare-and-set on the observed heartbeat prevents the race where a
// worker finishes (or beats) between the sweep's read and this write.
func (s *PostgresTaskStore) ResetStale(
	ctx context.Context,
	taskID uuid.UUID,
	observedHeartbeatAt time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = 'pending', claimed_by = '', claimed_at = NULL, heartbeat_at = NULL
		WHERE id = $1 AND status IN ('claimed', 'processing') AND heartbeat_at = $2
	`
	return s.execCAS(ctx, query, taskID, observedHeartbeatAt)
}

// FailStale implements store.TaskStore.FailStale
func (s *PostgresTaskStore) FailStale(
	ctx context.Context,
	taskID uuid.UUID,
	observedHeartbeatAt time.Time,
	errMsg string,
) error {
	query := `
		UPDATE tasks
		SET status = 'failed', claimed_by = '', error_message = $3, completed_at = now()
		WHERE id = $1 AND status IN ('claimed', 'processing') AND heartbeat_at = $2
	`
	return s.execCAS(ctx, query, taskID, observedHeartbeatAt, errMsg)
}

// InsertFanout implements store.TaskStore.InsertFanout
// Must run inside a transaction (use WithTx) so the derivation marker and the
// derived rows commit atomically. The ON CONFLICT DO NOTHING on the marker is
// what makes concurrent evaluation of the fan-out rule exactly-once.
func (s *PostgresTaskStore) InsertFanout(
	ctx context.Context,
	jobID uuid.UUID,
	tasks []*domain.Task,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO job_fanouts (job_id, created_at)
		VALUES ($1, now())
		ON CONFLICT (job_id) DO NOTHING
	`, jobID)
	if err != nil {
		return false, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Debug("fan-out already performed for job",
			slog.String("job_id", jobID.String()))
		return false, nil
	}

	if err := s.insertTasks(ctx, tasks, "ON CONFLICT (job_id, sequence) DO NOTHING"); err != nil {
		return false, err
	}

	log.Info("derived tasks fanned out",
		slog.String("job_id", jobID.String()),
		slog.Int("task_count", len(tasks)))
	return true, nil
}

// ClearFanout implements store.TaskStore.ClearFanout
func (s *PostgresTaskStore) ClearFanout(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM job_fanouts WHERE job_id = $1`, jobID); err != nil {
		return MapError(err)
	}
	return nil
}

// StatsByJob implements store.TaskStore.StatsByJob
func (s *PostgresTaskStore) StatsByJob(ctx context.Context, jobID uuid.UUID) (store.JobTaskStats, error) {
	query := `
		SELECT task_type, status, count(*)
		FROM tasks
		WHERE job_id = $1
		GROUP BY task_type, status
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return store.JobTaskStats{}, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var stats store.JobTaskStats
	for rows.Next() {
		var c store.TaskStatusCount
		if err := rows.Scan(&c.Type, &c.Status, &c.Count); err != nil {
			return store.JobTaskStats{}, fmt.Errorf("failed to scan task stats row: %w", err)
		}
		stats.Counts = append(stats.Counts, c)
	}
	if err := rows.Err(); err != nil {
		return store.JobTaskStats{}, fmt.Errorf("error iterating task stats rows: %w", err)
	}

	return stats, nil
}

// CancelActive implements store.TaskStore.CancelActive
func (s *PostgresTaskStore) CancelActive(
	ctx context.Context,
	jobID uuid.UUID,
	reason string,
) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = 'failed', claimed_by = '', error_message = $2, completed_at = now()
		WHERE job_id = $1 AND status IN ('pending', 'claimed', 'processing')
	`
	result, err := s.db.ExecContext(ctx, query, jobID, reason)
	if err != nil {
		return 0, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	log.Info("cancelled active tasks",
		slog.String("job_id", jobID.String()),
		slog.Int64("task_count", rowsAffected))
	return rowsAffected, nil
}

// Retry implements store.TaskStore.Retry
// Retrying clears the attempt counter so the task gets a fresh round of
// attempts; the old error stays in the logs rather than on the row.
func (s *PostgresTaskStore) Retry(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'pending', claimed_by = '', claimed_at = NULL,
			heartbeat_at = NULL, error_message = '', completed_at = NULL,
			attempt_count = 0
		WHERE id = $1 AND status = 'failed'
	`
	result, err := s.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, "failed task")
}

// execOwned runs a conditional update guarded by task ownership and maps an
// unaffected row to ErrNotOwner (the heartbeat monitor reclaimed the task) or
// ErrTaskNotFound.
func (s *PostgresTaskStore) execOwned(ctx context.Context, query string, taskID uuid.UUID, workerID string, extra ...any) error {
	args := append([]any{taskID, workerID}, extra...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetByID(ctx, taskID); getErr != nil {
			return getErr
		}
		return store.ErrNotOwner
	}
	return nil
}

// execCAS runs a conditional update guarded by an observed heartbeat value and
// maps an unaffected row to ErrStaleTask.
func (s *PostgresTaskStore) execCAS(ctx context.Context, query string, taskID uuid.UUID, observed time.Time, extra ...any) error {
	args := append([]any{taskID, observed}, extra...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrStaleTask
	}
	return nil
}

// queryTasks runs a multi-row task query and scans the results.
func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task           domain.Task
		payload        []byte
		claimedAt      sql.NullTime
		heartbeatAt    sql.NullTime
		timeoutSeconds int64
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.JobID,
		&task.Type,
		&task.Sequence,
		&task.Status,
		&payload,
		&task.ClaimedBy,
		&claimedAt,
		&heartbeatAt,
		&timeoutSeconds,
		&task.AttemptCount,
		&task.MaxAttempts,
		&task.ErrorMessage,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = payload
	task.HeartbeatTimeout = time.Duration(timeoutSeconds) * time.Second
	if claimedAt.Valid {
		t := claimedAt.Time
		task.ClaimedAt = &t
	}
	if heartbeatAt.Valid {
		t := heartbeatAt.Time
		task.HeartbeatAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}
