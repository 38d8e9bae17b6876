package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/postgres/migrations"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// openTestDB connects to the database named by DATABASE_URL and applies the
// embedded migrations. Tests are skipped when the variable is not set so the
// suite runs without a live database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping())

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))

	_, err = db.Exec("TRUNCATE jobs, tasks, job_fanouts, artifacts")
	require.NoError(t, err)

	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedJobAndTask(t *testing.T, jobs store.JobStore, tasks store.TaskStore) (*domain.Job, *domain.Task) {
	t.Helper()
	ctx := context.Background()

	job, err := domain.NewJob(domain.JobTypeSingleSystem, domain.JobParams{
		Subjects: []domain.Subject{{Name: "Ada", BirthDate: "1990-03-14"}},
		Systems:  []domain.System{domain.SystemWestern},
	})
	require.NoError(t, err)
	require.NoError(t, jobs.Create(ctx, job))

	task, err := domain.NewTask(job.ID, domain.TaskTypeText, 1, domain.TaskPayload{
		Role:     domain.RolePerson1,
		System:   domain.SystemWestern,
		Subjects: job.Params.Subjects,
	}, 5*time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, tasks.CreateTasks(ctx, []*domain.Task{task}))

	return job, task
}

func TestPostgresTaskStore_ClaimProtocol(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	jobs := NewPostgresJobStore(db, testLogger())
	tasks := NewPostgresTaskStore(db, testLogger())

	_, task := seedJobAndTask(t, jobs, tasks)

	claimed, err := tasks.Claim(ctx, "worker-a", []domain.TaskType{domain.TaskTypeText})
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, domain.TaskStatusClaimed, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)

	// The only pending task is gone: a second claimer finds nothing.
	_, err = tasks.Claim(ctx, "worker-b", []domain.TaskType{domain.TaskTypeText})
	assert.ErrorIs(t, err, store.ErrNoTaskAvailable)

	require.NoError(t, tasks.MarkProcessing(ctx, task.ID, "worker-a"))
	require.NoError(t, tasks.Heartbeat(ctx, task.ID, "worker-a"))

	// Writes conditioned on ownership reject other workers.
	err = tasks.Complete(ctx, task.ID, "worker-b")
	assert.ErrorIs(t, err, store.ErrNotOwner)

	require.NoError(t, tasks.Complete(ctx, task.ID, "worker-a"))

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestPostgresTaskStore_FanoutInsertedOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	jobs := NewPostgresJobStore(db, testLogger())
	tasks := NewPostgresTaskStore(db, testLogger())

	job, task := seedJobAndTask(t, jobs, tasks)

	derived, err := domain.NewTask(job.ID, domain.TaskTypePDF, 2, domain.TaskPayload{
		Role:         domain.RolePerson1,
		System:       domain.SystemWestern,
		Subjects:     job.Params.Subjects,
		SourceTaskID: &task.ID,
	}, 2*time.Minute, 3)
	require.NoError(t, err)

	inserted, err := tasks.InsertFanout(ctx, job.ID, []*domain.Task{derived})
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second evaluation of the same job is a no-op.
	inserted, err = tasks.InsertFanout(ctx, job.ID, []*domain.Task{derived})
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostgresTaskStore_StaleResetIsCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	jobs := NewPostgresJobStore(db, testLogger())
	tasks := NewPostgresTaskStore(db, testLogger())

	_, task := seedJobAndTask(t, jobs, tasks)

	claimed, err := tasks.Claim(ctx, "worker-a", []domain.TaskType{domain.TaskTypeText})
	require.NoError(t, err)
	require.NoError(t, tasks.MarkProcessing(ctx, claimed.ID, "worker-a"))

	// Age the heartbeat past the timeout so the sweep sees the task.
	_, err = db.Exec(
		"UPDATE tasks SET heartbeat_at = $1 WHERE id = $2",
		time.Now().UTC().Add(-time.Hour), task.ID,
	)
	require.NoError(t, err)

	stale, err := tasks.ListStale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	// The worker finishes between sweep and reset; the CAS must lose.
	require.NoError(t, tasks.Heartbeat(ctx, task.ID, "worker-a"))
	require.NotNil(t, stale[0].HeartbeatAt)
	err = tasks.ResetStale(ctx, task.ID, *stale[0].HeartbeatAt)
	assert.ErrorIs(t, err, store.ErrStaleTask)

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
}

// finalizeLeaf runs the worker's finalize sequence for a completed text leaf
// inside the given transaction: artifact row, terminal task write, and the
// coordinator evaluation, without committing.
func finalizeLeaf(
	tx *sql.Tx,
	coord *pipeline.Coordinator,
	tasks store.TaskStore,
	artifacts store.ArtifactStore,
	task *domain.Task,
	workerID string,
) error {
	ctx := context.Background()

	payload, err := task.DecodePayload()
	if err != nil {
		return err
	}
	artifact, err := domain.NewArtifact(
		task.JobID,
		task.ID,
		domain.ArtifactTypeText,
		"jobs/"+task.JobID.String()+"/text/"+task.ID.String()+".md",
		domain.ArtifactMeta{
			DocumentNumber: task.Sequence,
			Role:           payload.Role,
			System:         payload.System,
		},
	)
	if err != nil {
		return err
	}
	if err := artifacts.WithTx(tx).Create(ctx, artifact); err != nil {
		return err
	}
	if err := tasks.WithTx(tx).Complete(ctx, task.ID, workerID); err != nil {
		return err
	}
	return coord.WithTx(tx).TaskFinalized(ctx, task.JobID)
}

// The last two leaves of a job finish in two transactions that are open at
// the same time. The job row lock makes the second finalizer wait for the
// first, so it reads task counts that include the first one's terminal write
// and the fan-out fires. Without the lock both snapshots miss the other's
// uncommitted leaf and the fan-out fires zero times.
func TestTaskFinalized_ConcurrentLastTwoLeaves(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	jobs := NewPostgresJobStore(db, testLogger())
	tasks := NewPostgresTaskStore(db, testLogger())
	artifacts := NewPostgresArtifactStore(db, testLogger())

	coord, err := pipeline.NewCoordinator(jobs, tasks, artifacts, pipeline.DefaultSettings(), testLogger())
	require.NoError(t, err)

	job, err := domain.NewJob(domain.JobTypeCompatibility, domain.JobParams{
		Subjects: []domain.Subject{
			{Name: "Ada", BirthDate: "1990-03-14"},
			{Name: "Ben", BirthDate: "1988-11-02"},
		},
		Systems: []domain.System{domain.SystemWestern},
	})
	require.NoError(t, err)
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, coord.PlanJob(ctx, job))

	first, err := tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	second, err := tasks.Claim(ctx, "w2", nil)
	require.NoError(t, err)
	third, err := tasks.Claim(ctx, "w3", nil)
	require.NoError(t, err)

	txFirst, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, finalizeLeaf(txFirst, coord, tasks, artifacts, first, "w1"))
	require.NoError(t, txFirst.Commit())

	// Second finalizer holds its transaction open while the third starts.
	txSecond, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, finalizeLeaf(txSecond, coord, tasks, artifacts, second, "w2"))

	thirdDone := make(chan error, 1)
	go func() {
		txThird, err := db.BeginTx(ctx, nil)
		if err != nil {
			thirdDone <- err
			return
		}
		if err := finalizeLeaf(txThird, coord, tasks, artifacts, third, "w3"); err != nil {
			_ = txThird.Rollback()
			thirdDone <- err
			return
		}
		thirdDone <- txThird.Commit()
	}()

	// Give the third finalizer time to block on the job row before the
	// second commits.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, txSecond.Commit())
	require.NoError(t, <-thirdDone)

	var fanouts int
	require.NoError(t, db.QueryRow(
		"SELECT count(*) FROM job_fanouts WHERE job_id = $1", job.ID).Scan(&fanouts))
	assert.Equal(t, 1, fanouts)

	all, err := tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 12)

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
}

func TestPostgresJobStore_ReopenOnlyFromError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	jobs := NewPostgresJobStore(db, testLogger())
	tasks := NewPostgresTaskStore(db, testLogger())

	job, _ := seedJobAndTask(t, jobs, tasks)

	// Reopening a non-errored job is a no-op.
	require.NoError(t, jobs.Reopen(ctx, job.ID))
	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)

	got.Status = domain.JobStatusError
	got.ErrorMessage = "generation failed"
	require.NoError(t, jobs.UpdateProgress(ctx, got))

	require.NoError(t, jobs.Reopen(ctx, job.ID))
	got, err = jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Empty(t, got.ErrorMessage)
}
