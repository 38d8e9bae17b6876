// Package mocks provides in-memory store implementations shared by tests
// across packages. The task store reproduces the real store's conditional
// update semantics (ownership checks, compare-and-set resets, the fan-out
// marker) so concurrency-sensitive logic can be exercised without a database.
package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// MemoryJobStore implements store.JobStore backed by a map.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// Optional overrides for error injection.
	CreateFn         func(ctx context.Context, job *domain.Job) error
	UpdateProgressFn func(ctx context.Context, job *domain.Job) error
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

var _ store.JobStore = (*MemoryJobStore)(nil)

func (s *MemoryJobStore) Create(ctx context.Context, job *domain.Job) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return copyJob(job), nil
}

// GetByIDForUpdate is a plain read here: the store mutex makes every write
// immediately visible, so there is no uncommitted-snapshot race to lock
// against.
func (s *MemoryJobStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.GetByID(ctx, id)
}

func (s *MemoryJobStore) UpdateProgress(ctx context.Context, job *domain.Job) error {
	if s.UpdateProgressFn != nil {
		return s.UpdateProgressFn(ctx, job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return store.ErrJobNotFound
	}
	// Terminal states are final, matching the conditional SQL update.
	if (current.Status == domain.JobStatusCompleted || current.Status == domain.JobStatusError) &&
		current.Status != job.Status {
		return nil
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryJobStore) Reopen(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusError {
		return nil
	}
	job.Status = domain.JobStatusProcessing
	job.ErrorMessage = ""
	job.Results = nil
	job.PartialResults = false
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryJobStore) WithTx(tx *sql.Tx) store.JobStore { return s }

// MemoryTaskStore implements store.TaskStore backed by a map, with the same
// conditional-write behavior as the SQL implementation.
type MemoryTaskStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*domain.Task
	fanouts map[uuid.UUID]bool

	// Now supplies the current time; defaults to time.Now. Tests of the
	// timeout monitor override it.
	Now func() time.Time

	// Optional overrides for error injection.
	CreateTasksFn  func(ctx context.Context, tasks []*domain.Task) error
	ClaimFn        func(ctx context.Context, workerID string, types []domain.TaskType) (*domain.Task, error)
	InsertFanoutFn func(ctx context.Context, jobID uuid.UUID, tasks []*domain.Task) (bool, error)
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:   make(map[uuid.UUID]*domain.Task),
		fanouts: make(map[uuid.UUID]bool),
		Now:     time.Now,
	}
}

var _ store.TaskStore = (*MemoryTaskStore)(nil)

func (s *MemoryTaskStore) CreateTasks(ctx context.Context, tasks []*domain.Task) error {
	if s.CreateTasksFn != nil {
		return s.CreateTasksFn(ctx, tasks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(tasks)
}

func (s *MemoryTaskStore) insertLocked(tasks []*domain.Task) error {
	type key struct {
		job uuid.UUID
		seq int
	}
	used := make(map[key]bool, len(s.tasks))
	for _, t := range s.tasks {
		used[key{t.JobID, t.Sequence}] = true
	}
	for _, t := range tasks {
		k := key{t.JobID, t.Sequence}
		if used[k] {
			return store.ErrDuplicate
		}
		if _, ok := s.tasks[t.ID]; ok {
			return store.ErrDuplicate
		}
		used[k] = true
	}
	for _, t := range tasks {
		s.tasks[t.ID] = copyTask(t)
	}
	return nil
}

func (s *MemoryTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (s *MemoryTaskStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	return s.list(func(t *domain.Task) bool { return t.JobID == jobID })
}

func (s *MemoryTaskStore) ListByJobAndType(
	ctx context.Context,
	jobID uuid.UUID,
	taskType domain.TaskType,
) ([]*domain.Task, error) {
	return s.list(func(t *domain.Task) bool {
		return t.JobID == jobID && t.Type == taskType
	})
}

func (s *MemoryTaskStore) list(match func(*domain.Task) bool) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryTaskStore) Claim(
	ctx context.Context,
	workerID string,
	types []domain.TaskType,
) (*domain.Task, error) {
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx, workerID, types)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(types) == 0 {
		types = domain.AllTaskTypes
	}
	wanted := make(map[domain.TaskType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var best *domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending || !wanted[t.Type] {
			continue
		}
		if best == nil || t.Sequence < best.Sequence {
			best = t
		}
	}
	if best == nil {
		return nil, store.ErrNoTaskAvailable
	}

	now := s.Now()
	best.Status = domain.TaskStatusClaimed
	best.ClaimedBy = workerID
	best.ClaimedAt = &now
	best.HeartbeatAt = &now
	best.AttemptCount++
	return copyTask(best), nil
}

func (s *MemoryTaskStore) MarkProcessing(ctx context.Context, taskID uuid.UUID, workerID string) error {
	return s.updateOwned(taskID, workerID, []domain.TaskStatus{domain.TaskStatusClaimed},
		func(t *domain.Task) {
			t.Status = domain.TaskStatusProcessing
		})
}

func (s *MemoryTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string) error {
	return s.updateOwned(taskID, workerID, activeStatuses(),
		func(t *domain.Task) {
			now := s.Now()
			t.HeartbeatAt = &now
		})
}

func (s *MemoryTaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string) error {
	return s.updateOwned(taskID, workerID, activeStatuses(),
		func(t *domain.Task) {
			now := s.Now()
			t.Status = domain.TaskStatusCompleted
			t.ErrorMessage = ""
			t.CompletedAt = &now
		})
}

func (s *MemoryTaskStore) FailPermanently(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	errMsg string,
) error {
	return s.updateOwned(taskID, workerID, activeStatuses(),
		func(t *domain.Task) {
			now := s.Now()
			t.Status = domain.TaskStatusFailed
			t.ErrorMessage = errMsg
			t.CompletedAt = &now
		})
}

func (s *MemoryTaskStore) ReturnForRetry(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	errMsg string,
) error {
	return s.updateOwned(taskID, workerID, activeStatuses(),
		func(t *domain.Task) {
			t.Status = domain.TaskStatusPending
			t.ClaimedBy = ""
			t.ClaimedAt = nil
			t.HeartbeatAt = nil
			t.ErrorMessage = errMsg
		})
}

func (s *MemoryTaskStore) updateOwned(
	taskID uuid.UUID,
	workerID string,
	statuses []domain.TaskStatus,
	apply func(*domain.Task),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.ClaimedBy != workerID || !statusIn(task.Status, statuses) {
		return store.ErrNotOwner
	}
	apply(task)
	return nil
}

func (s *MemoryTaskStore) ListStale(ctx context.Context) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var out []*domain.Task
	for _, t := range s.tasks {
		if !statusIn(t.Status, activeStatuses()) || t.HeartbeatAt == nil {
			continue
		}
		if now.Sub(*t.HeartbeatAt) > t.HeartbeatTimeout {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HeartbeatAt.Before(*out[j].HeartbeatAt) })
	return out, nil
}

func (s *MemoryTaskStore) ResetStale(ctx context.Context, taskID uuid.UUID, observedHeartbeatAt time.Time) error {
	return s.updateCAS(taskID, observedHeartbeatAt, func(t *domain.Task) {
		t.Status = domain.TaskStatusPending
		t.ClaimedBy = ""
		t.ClaimedAt = nil
		t.HeartbeatAt = nil
	})
}

func (s *MemoryTaskStore) FailStale(
	ctx context.Context,
	taskID uuid.UUID,
	observedHeartbeatAt time.Time,
	errMsg string,
) error {
	return s.updateCAS(taskID, observedHeartbeatAt, func(t *domain.Task) {
		now := s.Now()
		t.Status = domain.TaskStatusFailed
		t.ClaimedBy = ""
		t.ErrorMessage = errMsg
		t.CompletedAt = &now
	})
}

func (s *MemoryTaskStore) updateCAS(taskID uuid.UUID, observed time.Time, apply func(*domain.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrStaleTask
	}
	if !statusIn(task.Status, activeStatuses()) ||
		task.HeartbeatAt == nil || !task.HeartbeatAt.Equal(observed) {
		return store.ErrStaleTask
	}
	apply(task)
	return nil
}

func (s *MemoryTaskStore) InsertFanout(
	ctx context.Context,
	jobID uuid.UUID,
	tasks []*domain.Task,
) (bool, error) {
	if s.InsertFanoutFn != nil {
		return s.InsertFanoutFn(ctx, jobID, tasks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fanouts[jobID] {
		return false, nil
	}
	s.fanouts[jobID] = true

	// Slots that already exist are skipped, mirroring the store's
	// ON CONFLICT (job_id, sequence) DO NOTHING on the fan-out insert.
	used := make(map[int]bool)
	for _, t := range s.tasks {
		if t.JobID == jobID {
			used[t.Sequence] = true
		}
	}
	for _, t := range tasks {
		if used[t.Sequence] {
			continue
		}
		used[t.Sequence] = true
		s.tasks[t.ID] = copyTask(t)
	}
	return true, nil
}

func (s *MemoryTaskStore) ClearFanout(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fanouts, jobID)
	return nil
}

func (s *MemoryTaskStore) StatsByJob(ctx context.Context, jobID uuid.UUID) (store.JobTaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type cell struct {
		t domain.TaskType
		s domain.TaskStatus
	}
	counts := make(map[cell]int)
	for _, t := range s.tasks {
		if t.JobID == jobID {
			counts[cell{t.Type, t.Status}]++
		}
	}

	var stats store.JobTaskStats
	for c, n := range counts {
		stats.Counts = append(stats.Counts, store.TaskStatusCount{Type: c.t, Status: c.s, Count: n})
	}
	return stats, nil
}

func (s *MemoryTaskStore) CancelActive(ctx context.Context, jobID uuid.UUID, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var n int64
	for _, t := range s.tasks {
		if t.JobID != jobID || t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed {
			continue
		}
		t.Status = domain.TaskStatusFailed
		t.ClaimedBy = ""
		t.ErrorMessage = reason
		t.CompletedAt = &now
		n++
	}
	return n, nil
}

func (s *MemoryTaskStore) Retry(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusFailed {
		return store.ErrUpdateFailed
	}
	task.Status = domain.TaskStatusPending
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	task.HeartbeatAt = nil
	task.ErrorMessage = ""
	task.CompletedAt = nil
	task.AttemptCount = 0
	return nil
}

func (s *MemoryTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

// MemoryArtifactStore implements store.ArtifactStore backed by a slice.
type MemoryArtifactStore struct {
	mu        sync.Mutex
	artifacts []*domain.Artifact

	CreateFn func(ctx context.Context, artifact *domain.Artifact) error
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{}
}

var _ store.ArtifactStore = (*MemoryArtifactStore)(nil)

func (s *MemoryArtifactStore) Create(ctx context.Context, artifact *domain.Artifact) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, artifact)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := *artifact
	s.artifacts = append(s.artifacts, &a)
	return nil
}

func (s *MemoryArtifactStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.artifacts) - 1; i >= 0; i-- {
		if s.artifacts[i].TaskID == taskID {
			a := *s.artifacts[i]
			return &a, nil
		}
	}
	return nil, store.ErrArtifactNotFound
}

func (s *MemoryArtifactStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Artifact
	for _, a := range s.artifacts {
		if a.JobID == jobID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryArtifactStore) WithTx(tx *sql.Tx) store.ArtifactStore { return s }

func activeStatuses() []domain.TaskStatus {
	return []domain.TaskStatus{domain.TaskStatusClaimed, domain.TaskStatusProcessing}
}

func statusIn(s domain.TaskStatus, in []domain.TaskStatus) bool {
	for _, c := range in {
		if s == c {
			return true
		}
	}
	return false
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	c.Results = append([]domain.DocumentRef(nil), j.Results...)
	return &c
}

func copyTask(t *domain.Task) *domain.Task {
	c := *t
	c.Payload = append([]byte(nil), t.Payload...)
	if t.ClaimedAt != nil {
		v := *t.ClaimedAt
		c.ClaimedAt = &v
	}
	if t.HeartbeatAt != nil {
		v := *t.HeartbeatAt
		c.HeartbeatAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
