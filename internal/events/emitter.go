package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter dispatches events to handlers registered in-process.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates an InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEmitter{logger: logger.With("component", "event_emitter")}
}

// RegisterHandler adds a handler to receive future events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// EmitJobEnqueued delivers the event to every registered handler. A failing
// handler does not stop delivery to the others; the first error is returned.
func (e *InMemoryEmitter) EmitJobEnqueued(ctx context.Context, event *JobEnqueuedEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.WarnContext(ctx, "no handlers registered for job-enqueued event",
			"event_id", event.ID,
			"job_id", event.JobID)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleJobEnqueued(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "handler failed to process job-enqueued event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"job_id", event.JobID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
