package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// TextGenerator produces reading prose from a prompt. The Gemini-backed
// implementation lives in internal/platform/gemini.
type TextGenerator interface {
	GenerateReading(ctx context.Context, prompt string) (string, error)
}

// TextExecutor runs text generation tasks: it builds the document prompt from
// the task payload, calls the model, and stores the result as markdown.
type TextExecutor struct {
	generator TextGenerator
	blobs     BlobStore
	logger    *slog.Logger
}

// NewTextExecutor creates a TextExecutor.
func NewTextExecutor(generator TextGenerator, blobs BlobStore, logger *slog.Logger) (*TextExecutor, error) {
	if generator == nil {
		return nil, errors.New("text generator is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExecutor{generator: generator, blobs: blobs, logger: logger}, nil
}

// Execute implements Executor for text generation tasks.
func (e *TextExecutor) Execute(ctx context.Context, task *domain.Task) (*Result, error) {
	payload, err := task.DecodePayload()
	if err != nil {
		return nil, Permanent(err)
	}

	prompt, err := buildPrompt(payload)
	if err != nil {
		return nil, Permanent(err)
	}

	text, err := e.generator.GenerateReading(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrGenerationFailed) {
			return nil, Permanent(err)
		}
		return nil, fmt.Errorf("generate reading: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty reading text", ErrInvalidResponse)
	}

	key, err := storageKey(task, payload)
	if err != nil {
		return nil, Permanent(err)
	}
	storedKey, err := e.blobs.Write(ctx, key, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("store reading text: %w", err)
	}

	e.logger.DebugContext(ctx, "text generated",
		"task_id", task.ID,
		"role", payload.Role,
		"system", payload.System,
		"chars", len(text))

	return &Result{StorageKey: storedKey}, nil
}
