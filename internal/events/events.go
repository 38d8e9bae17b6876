// Package events decouples job submission from task planning. The HTTP path
// creates the job row and emits a JobEnqueuedEvent; a registered handler
// plans the job's initial tasks. Handlers run synchronously in the emitting
// goroutine.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// JobEnqueuedEvent announces that a job row was created and needs its initial
// task list planned.
type JobEnqueuedEvent struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	JobType   domain.JobType `json:"job_type"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewJobEnqueuedEvent creates a JobEnqueuedEvent for the given job.
func NewJobEnqueuedEvent(job *domain.Job) *JobEnqueuedEvent {
	return &JobEnqueuedEvent{
		ID:        uuid.New(),
		JobID:     job.ID,
		JobType:   job.Type,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler processes job-enqueued events.
type Handler interface {
	HandleJobEnqueued(ctx context.Context, event *JobEnqueuedEvent) error
}

// Emitter publishes job-enqueued events to registered handlers. Services emit
// without knowing which handlers will process the event.
type Emitter interface {
	EmitJobEnqueued(ctx context.Context, event *JobEnqueuedEvent) error
}
