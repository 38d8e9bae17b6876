package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/generation"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/mocks"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// passthroughTx runs fn directly; the in-memory stores ignore the nil
// transaction handle.
func passthroughTx(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

// fakeExecutor delegates to fn, recording every task it sees.
type fakeExecutor struct {
	mu    sync.Mutex
	seen  []uuid.UUID
	fn    func(ctx context.Context, task *domain.Task) (*generation.Result, error)
	block chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, task *domain.Task) (*generation.Result, error) {
	e.mu.Lock()
	e.seen = append(e.seen, task.ID)
	e.mu.Unlock()

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fn != nil {
		return e.fn(ctx, task)
	}
	return &generation.Result{StorageKey: "jobs/" + task.JobID.String() + "/" + task.ID.String()}, nil
}

func (e *fakeExecutor) seenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

type workerFixture struct {
	worker    *Worker
	exec      *fakeExecutor
	coord     *pipeline.Coordinator
	jobs      *mocks.MemoryJobStore
	tasks     *mocks.MemoryTaskStore
	artifacts *mocks.MemoryArtifactStore
	settings  pipeline.Settings
}

func newWorkerFixture(t *testing.T, settings pipeline.Settings) *workerFixture {
	t.Helper()

	jobs := mocks.NewMemoryJobStore()
	tasks := mocks.NewMemoryTaskStore()
	artifacts := mocks.NewMemoryArtifactStore()

	coord, err := pipeline.NewCoordinator(jobs, tasks, artifacts, settings, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	registry := generation.Registry{
		domain.TaskTypeText:  exec,
		domain.TaskTypePDF:   exec,
		domain.TaskTypeAudio: exec,
		domain.TaskTypeSong:  exec,
	}

	cfg := DefaultConfig()
	cfg.ID = "test-worker"
	cfg.HeartbeatInterval = 10 * time.Millisecond

	w, err := New(cfg, tasks, artifacts, coord, registry, passthroughTx, nil, nil)
	require.NoError(t, err)

	return &workerFixture{
		worker:    w,
		exec:      exec,
		coord:     coord,
		jobs:      jobs,
		tasks:     tasks,
		artifacts: artifacts,
		settings:  settings,
	}
}

func (f *workerFixture) enqueue(t *testing.T, jobType domain.JobType, subjects int, systems []domain.System) *domain.Job {
	t.Helper()

	all := []domain.Subject{
		{Name: "Ada", BirthDate: "1990-03-14"},
		{Name: "Grace", BirthDate: "1988-11-02"},
	}
	job, err := domain.NewJob(jobType, domain.JobParams{
		Subjects: all[:subjects],
		Systems:  systems,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.jobs.Create(ctx, job))
	require.NoError(t, f.coord.PlanJob(ctx, job))
	return job
}

func (f *workerFixture) jobState(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestWorker_ProcessOne_NoTask(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, pipeline.DefaultSettings())
	worked, err := f.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorker_ProcessOne_CompletesLeafAndFansOut(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, pipeline.DefaultSettings())
	job := f.enqueue(t, domain.JobTypeSingleSystem, 1, []domain.System{domain.SystemWestern})

	worked, err := f.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	tasks, err := f.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4, "completing the only leaf should fan out 3 derived tasks")

	assert.Equal(t, domain.TaskStatusCompleted, tasks[0].Status)
	for _, task := range tasks[1:] {
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}

	artifact, err := f.artifacts.GetByTaskID(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactTypeText, artifact.Type)

	assert.Equal(t, domain.JobStatusProcessing, f.jobState(t, job.ID).Status)
}

func TestWorker_RunsJobToCompletion(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, pipeline.DefaultSettings())
	job := f.enqueue(t, domain.JobTypeSingleSystem, 1, []domain.System{domain.SystemVedic})

	// 1 leaf + 3 derived.
	for i := 0; i < 4; i++ {
		worked, err := f.worker.ProcessOne(context.Background())
		require.NoError(t, err)
		require.True(t, worked, "task %d", i)
	}

	state := f.jobState(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, state.Status)
	assert.Equal(t, 100, state.Progress.Percent)
	assert.Len(t, state.Results, 4)
}

func TestWorker_TransientFailureRetriesThenFailsPermanently(t *testing.T) {
	t.Parallel()

	settings := pipeline.DefaultSettings()
	settings[domain.TaskTypeText] = pipeline.TypeSettings{
		HeartbeatTimeout: time.Minute,
		MaxAttempts:      2,
	}

	f := newWorkerFixture(t, settings)
	f.exec.fn = func(ctx context.Context, task *domain.Task) (*generation.Result, error) {
		return nil, errors.New("provider timeout")
	}
	job := f.enqueue(t, domain.JobTypeSingleSystem, 1, []domain.System{domain.SystemChinese})

	// First attempt fails transiently: the task returns to pending with the
	// attempt counted.
	worked, err := f.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	tasks, err := f.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusPending, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].AttemptCount)
	assert.Equal(t, "provider timeout", tasks[0].ErrorMessage)

	// Second attempt hits max attempts: permanent failure, job errors.
	worked, err = f.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	tasks, err = f.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "failed leaf must not fan out derived tasks")
	assert.Equal(t, domain.TaskStatusFailed, tasks[0].Status)

	state := f.jobState(t, job.ID)
	assert.Equal(t, domain.JobStatusError, state.Status)
	assert.True(t, state.PartialResults)
	require.Len(t, state.Results, 1)
	assert.True(t, state.Results[0].Failed)
}

func TestWorker_PermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, pipeline.DefaultSettings())
	f.exec.fn = func(ctx context.Context, task *domain.Task) (*generation.Result, error) {
		return nil, generation.Permanent(errors.New("prompt rejected by safety filter"))
	}
	job := f.enqueue(t, domain.JobTypeSingleSystem, 1, []domain.System{domain.SystemNumerology})

	worked, err := f.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	tasks, err := f.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].AttemptCount)
	assert.Equal(t, domain.JobStatusError, f.jobState(t, job.ID).Status)
}

// No two workers ever execute the same task: concurrent claim loops drain an
// 11-leaf job and every task is seen exactly once.
func TestWorker_ConcurrentClaimsNeverOverlap(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, pipeline.DefaultSettings())
	job := f.enqueue(t, domain.JobTypeCompleteReading, 2, domain.AllSystems)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				worked, err := f.worker.ProcessOne(context.Background())
				assert.NoError(t, err)
				if !worked {
					return
				}
			}
		}()
	}
	wg.Wait()

	// 11 leaves + 33 derived, each executed exactly once.
	assert.Equal(t, 44, f.exec.seenCount())
	seen := make(map[uuid.UUID]bool)
	for _, id := range f.exec.seen {
		assert.False(t, seen[id], "task %s executed twice", id)
		seen[id] = true
	}

	state := f.jobState(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, state.Status)
	assert.Len(t, state.Results, 44)
}

func TestBackoffPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Initial: time.Second, Max: 8 * time.Second, Factor: 2.0}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	// Capped at Max from there on.
	assert.Equal(t, 8*time.Second, p.Delay(10))
}

func TestBackoffPolicy_JitterStaysBounded(t *testing.T) {
	t.Parallel()

	p := DefaultBackoffPolicy()
	for n := 1; n < 12; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, p.Max)
	}
}
