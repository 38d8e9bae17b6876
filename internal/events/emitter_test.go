package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

type recordingHandler struct {
	events []*JobEnqueuedEvent
	err    error
}

func (h *recordingHandler) HandleJobEnqueued(_ context.Context, event *JobEnqueuedEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueuedEvent(t *testing.T) *JobEnqueuedEvent {
	t.Helper()
	job, err := domain.NewJob(domain.JobTypeSingleSystem, domain.JobParams{
		Subjects: []domain.Subject{{Name: "Ada", BirthDate: "1990-03-14"}},
		Systems:  []domain.System{domain.SystemWestern},
	})
	require.NoError(t, err)
	return NewJobEnqueuedEvent(job)
}

func TestInMemoryEmitter_DeliversToAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(discardLogger())
	first := &recordingHandler{}
	second := &recordingHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event := enqueuedEvent(t)
	require.NoError(t, emitter.EmitJobEnqueued(context.Background(), event))

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, event.JobID, first.events[0].JobID)
}

func TestInMemoryEmitter_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(discardLogger())
	failing := &recordingHandler{err: errors.New("planning failed")}
	healthy := &recordingHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	err := emitter.EmitJobEnqueued(context.Background(), enqueuedEvent(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planning failed")
	assert.Len(t, healthy.events, 1)
}

func TestInMemoryEmitter_NoHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(discardLogger())
	assert.NoError(t, emitter.EmitJobEnqueued(context.Background(), enqueuedEvent(t)))
}
