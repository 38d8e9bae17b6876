package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/events"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/mocks"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// passthroughTx satisfies TxRunner for memory stores, which ignore the
// transaction handle.
func passthroughTx(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	svc       *ReadingService
	jobs      *mocks.MemoryJobStore
	tasks     *mocks.MemoryTaskStore
	artifacts *mocks.MemoryArtifactStore
	coord     *pipeline.Coordinator
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		jobs:      mocks.NewMemoryJobStore(),
		tasks:     mocks.NewMemoryTaskStore(),
		artifacts: mocks.NewMemoryArtifactStore(),
	}

	coord, err := pipeline.NewCoordinator(f.jobs, f.tasks, f.artifacts, pipeline.DefaultSettings(), discardLogger())
	require.NoError(t, err)
	f.coord = coord

	emitter := events.NewInMemoryEmitter(discardLogger())
	bridge, err := NewPlannerBridge(passthroughTx, f.jobs, coord, discardLogger())
	require.NoError(t, err)
	emitter.RegisterHandler(bridge)

	svc, err := NewReadingService(passthroughTx, f.jobs, f.tasks, coord, emitter, discardLogger())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func singleSystemParams() domain.JobParams {
	return domain.JobParams{
		Subjects: []domain.Subject{{Name: "Ada", BirthDate: "1990-03-14"}},
		Systems:  []domain.System{domain.SystemVedic},
	}
}

func compatibilityParams() domain.JobParams {
	return domain.JobParams{
		Subjects: []domain.Subject{
			{Name: "Ada", BirthDate: "1990-03-14"},
			{Name: "Ben", BirthDate: "1988-11-02"},
		},
		Systems: []domain.System{domain.SystemWestern},
	}
}

func bundleParams() domain.JobParams {
	return domain.JobParams{
		Subjects: []domain.Subject{
			{Name: "Ada", BirthDate: "1990-03-14"},
			{Name: "Ben", BirthDate: "1988-11-02"},
		},
		Systems: domain.AllSystems,
	}
}

// finishTask simulates a worker completing a claimed task, including the
// fan-out and progress fold a real worker runs at finalize time.
func (f *serviceFixture) finishTask(t *testing.T, task *domain.Task) {
	t.Helper()
	ctx := context.Background()

	artifactType, err := domain.ArtifactTypeForTask(task.Type)
	require.NoError(t, err)
	payload, err := task.DecodePayload()
	require.NoError(t, err)
	artifact, err := domain.NewArtifact(task.JobID, task.ID, artifactType, "blobs/"+task.ID.String(), domain.ArtifactMeta{
		DocumentNumber: task.Sequence,
		Role:           payload.Role,
		System:         payload.System,
	})
	require.NoError(t, err)
	require.NoError(t, f.artifacts.Create(ctx, artifact))
	require.NoError(t, f.tasks.Complete(ctx, task.ID, task.ClaimedBy))
	require.NoError(t, f.coord.TaskFinalized(ctx, task.JobID))
}

func TestEnqueueJob_PlansInitialTasks(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	job, err := f.svc.EnqueueJob(context.Background(), domain.JobTypeCompleteReading, bundleParams())
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusQueued, job.Status)

	tasks, err := f.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 11)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskTypeText, task.Type)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}
}

func TestEnqueueJob_InvalidParams(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	cases := []struct {
		name    string
		jobType domain.JobType
		params  domain.JobParams
	}{
		{
			name:    "no subjects",
			jobType: domain.JobTypeSingleSystem,
			params:  domain.JobParams{Systems: []domain.System{domain.SystemVedic}},
		},
		{
			name:    "compatibility needs two subjects",
			jobType: domain.JobTypeCompatibility,
			params:  singleSystemParams(),
		},
		{
			name:    "single system allows one system only",
			jobType: domain.JobTypeSingleSystem,
			params: domain.JobParams{
				Subjects: []domain.Subject{{Name: "Ada", BirthDate: "1990-03-14"}},
				Systems:  []domain.System{domain.SystemVedic, domain.SystemChinese},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.svc.EnqueueJob(context.Background(), tc.jobType, tc.params)
			assert.ErrorIs(t, err, ErrInvalidJobRequest)
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	_, err := f.svc.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestCancelJob_FailsActiveTasksAndKeepsResults(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueJob(ctx, domain.JobTypeSingleSystem, singleSystemParams())
	require.NoError(t, err)

	// Finish the one text leaf so fan-out creates three derived tasks.
	leaf, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	f.finishTask(t, leaf)

	cancelled, err := f.svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusError, cancelled.Status)
	require.Len(t, cancelled.Results, 4)

	var failed int
	for _, ref := range cancelled.Results {
		if ref.Failed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
	assert.True(t, cancelled.PartialResults)

	tasks, err := f.tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.ID == leaf.ID {
			assert.Equal(t, domain.TaskStatusCompleted, task.Status)
			continue
		}
		assert.Equal(t, domain.TaskStatusFailed, task.Status)
		assert.Contains(t, task.ErrorMessage, "cancelled")
	}
}

func TestCancelJob_BeforePlanning(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	// A job whose enqueue event was never handled has no tasks.
	job, err := domain.NewJob(domain.JobTypeSingleSystem, singleSystemParams())
	require.NoError(t, err)
	require.NoError(t, f.jobs.Create(ctx, job))

	cancelled, err := f.svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, cancelled.Status)
	assert.Equal(t, "cancelled by user", cancelled.ErrorMessage)
}

func TestCancelJob_TerminalJob(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueJob(ctx, domain.JobTypeSingleSystem, singleSystemParams())
	require.NoError(t, err)
	_, err = f.svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestRetryTask_ReopensErroredJob(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueJob(ctx, domain.JobTypeSingleSystem, singleSystemParams())
	require.NoError(t, err)

	// Fail the only leaf permanently; the job goes terminal.
	leaf, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	require.NoError(t, f.tasks.FailPermanently(ctx, leaf.ID, "w1", "provider rejected prompt"))
	require.NoError(t, f.coord.TaskFinalized(ctx, job.ID))

	errored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusError, errored.Status)

	reopened, err := f.svc.RetryTask(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, reopened.Status)
	assert.Empty(t, reopened.ErrorMessage)
	assert.Empty(t, reopened.Results)

	task, err := f.tasks.GetByID(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Zero(t, task.AttemptCount)
	assert.Empty(t, task.ErrorMessage)
}

func TestRetryTask_RestoresDerivedFanout(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueJob(ctx, domain.JobTypeCompatibility, compatibilityParams())
	require.NoError(t, err)

	first, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	f.finishTask(t, first)

	second, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	require.NoError(t, f.tasks.FailPermanently(ctx, second.ID, "w1", "provider rejected prompt"))
	require.NoError(t, f.coord.TaskFinalized(ctx, job.ID))

	third, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	f.finishTask(t, third)

	// Fan-out fired with the failed leaf contributing nothing: two completed
	// leaves, three derived tasks each.
	all, err := f.tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, all, 9)

	_, err = f.svc.RetryTask(ctx, second.ID)
	require.NoError(t, err)

	retried, err := f.tasks.Claim(ctx, "w1", []domain.TaskType{domain.TaskTypeText})
	require.NoError(t, err)
	require.Equal(t, second.ID, retried.ID)
	f.finishTask(t, retried)

	// The retried leaf's pdf, audio, and song tasks exist now, and the six
	// rows from the first evaluation are untouched.
	all, err = f.tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, all, 12)

	seen := make(map[int]bool)
	fromRetried := 0
	for _, task := range all {
		require.False(t, seen[task.Sequence], "duplicate sequence %d", task.Sequence)
		seen[task.Sequence] = true
		if task.Type == domain.TaskTypeText {
			continue
		}
		payload, err := task.DecodePayload()
		require.NoError(t, err)
		if *payload.SourceTaskID == second.ID {
			fromRetried++
		}
	}
	assert.Equal(t, 3, fromRetried)

	// Finishing every derived task completes the job with nothing flagged.
	for {
		task, err := f.tasks.Claim(ctx, "w1", nil)
		if errors.Is(err, store.ErrNoTaskAvailable) {
			break
		}
		require.NoError(t, err)
		f.finishTask(t, task)
	}

	done, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.False(t, done.PartialResults)
	assert.Len(t, done.Results, 12)
}

func TestRetryTask_RejectsNonFailedTask(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnqueueJob(ctx, domain.JobTypeSingleSystem, singleSystemParams())
	require.NoError(t, err)

	leaf, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)

	_, err = f.svc.RetryTask(ctx, leaf.ID)
	assert.ErrorIs(t, err, ErrTaskNotRetryable)
}

func TestRetryTask_UnknownTask(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	_, err := f.svc.RetryTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

// Compile-time check that the production transaction runner signature fits.
var _ TxRunner = func(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, (*sql.Tx)(nil))
}
