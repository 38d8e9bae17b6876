package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// sourceLoader resolves the completed text a derived task renders from: it
// follows the payload's source task reference to its artifact row and reads
// the stored markdown.
type sourceLoader struct {
	artifacts store.ArtifactStore
	blobs     BlobStore
}

func (l *sourceLoader) load(ctx context.Context, payload domain.TaskPayload) (string, error) {
	if payload.SourceTaskID == nil {
		return "", fmt.Errorf("%w: payload has no source task", ErrMissingSource)
	}
	artifact, err := l.artifacts.GetByTaskID(ctx, *payload.SourceTaskID)
	if err != nil {
		if errors.Is(err, store.ErrArtifactNotFound) {
			return "", fmt.Errorf("%w: no artifact for source task %s", ErrMissingSource, payload.SourceTaskID)
		}
		return "", fmt.Errorf("load source artifact: %w", err)
	}
	data, err := l.blobs.Read(ctx, artifact.StorageKey)
	if err != nil {
		return "", fmt.Errorf("read source text: %w", err)
	}
	return string(data), nil
}

// documentTitle builds a human-facing title for a derived document.
func documentTitle(payload domain.TaskPayload) string {
	var subject string
	switch {
	case payload.Role == domain.RoleOverlay && len(payload.Subjects) >= 2:
		subject = payload.Subjects[0].Name + " & " + payload.Subjects[1].Name
	case len(payload.Subjects) > 0:
		subject = payload.Subjects[0].Name
	}

	if payload.Role == domain.RoleVerdict {
		return "The Verdict: " + subject
	}
	label := systemLabels[payload.System]
	if label == "" {
		return "Reading for " + subject
	}
	return fmt.Sprintf("%s reading for %s", label, subject)
}

// PDFExecutor runs pdf generation tasks: it renders a completed reading's
// markdown through the document rendering service.
type PDFExecutor struct {
	renderer *RenderClient
	source   sourceLoader
	logger   *slog.Logger
}

// NewPDFExecutor creates a PDFExecutor.
func NewPDFExecutor(renderer *RenderClient, artifacts store.ArtifactStore, blobs BlobStore, logger *slog.Logger) (*PDFExecutor, error) {
	if renderer == nil {
		return nil, errors.New("render client is required")
	}
	if artifacts == nil || blobs == nil {
		return nil, errors.New("artifact store and blob store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExecutor{renderer: renderer, source: sourceLoader{artifacts: artifacts, blobs: blobs}, logger: logger}, nil
}

// Execute implements Executor for pdf generation tasks.
func (e *PDFExecutor) Execute(ctx context.Context, task *domain.Task) (*Result, error) {
	payload, err := task.DecodePayload()
	if err != nil {
		return nil, Permanent(err)
	}

	text, err := e.source.load(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrMissingSource) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	pdf, err := e.renderer.RenderPDF(ctx, RenderRequest{
		Title:    documentTitle(payload),
		Markdown: text,
	})
	if err != nil {
		if errors.Is(err, ErrGenerationFailed) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	e.logger.DebugContext(ctx, "pdf rendered", "task_id", task.ID, "bytes", len(pdf))
	return storeOutput(ctx, e.source.blobs, task, payload, pdf)
}

// AudioExecutor runs audio generation tasks: it narrates a completed reading
// through the speech synthesis service.
type AudioExecutor struct {
	speech *SpeechClient
	source sourceLoader
	logger *slog.Logger
}

// NewAudioExecutor creates an AudioExecutor.
func NewAudioExecutor(speech *SpeechClient, artifacts store.ArtifactStore, blobs BlobStore, logger *slog.Logger) (*AudioExecutor, error) {
	if speech == nil {
		return nil, errors.New("speech client is required")
	}
	if artifacts == nil || blobs == nil {
		return nil, errors.New("artifact store and blob store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioExecutor{speech: speech, source: sourceLoader{artifacts: artifacts, blobs: blobs}, logger: logger}, nil
}

// Execute implements Executor for audio generation tasks.
func (e *AudioExecutor) Execute(ctx context.Context, task *domain.Task) (*Result, error) {
	payload, err := task.DecodePayload()
	if err != nil {
		return nil, Permanent(err)
	}

	text, err := e.source.load(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrMissingSource) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	audio, err := e.speech.Synthesize(ctx, SpeechRequest{
		Text:    text,
		VoiceID: payload.Voice.VoiceID,
		Style:   payload.Voice.Style,
	})
	if err != nil {
		if errors.Is(err, ErrGenerationFailed) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	e.logger.DebugContext(ctx, "narration synthesized", "task_id", task.ID, "bytes", len(audio))
	return storeOutput(ctx, e.source.blobs, task, payload, audio)
}

// SongExecutor runs song generation tasks: it turns a completed reading into
// a personalized song through the music generation service.
type SongExecutor struct {
	songs  *SongClient
	source sourceLoader
	logger *slog.Logger
}

// NewSongExecutor creates a SongExecutor.
func NewSongExecutor(songs *SongClient, artifacts store.ArtifactStore, blobs BlobStore, logger *slog.Logger) (*SongExecutor, error) {
	if songs == nil {
		return nil, errors.New("song client is required")
	}
	if artifacts == nil || blobs == nil {
		return nil, errors.New("artifact store and blob store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SongExecutor{songs: songs, source: sourceLoader{artifacts: artifacts, blobs: blobs}, logger: logger}, nil
}

// Execute implements Executor for song generation tasks.
func (e *SongExecutor) Execute(ctx context.Context, task *domain.Task) (*Result, error) {
	payload, err := task.DecodePayload()
	if err != nil {
		return nil, Permanent(err)
	}

	text, err := e.source.load(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrMissingSource) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	audio, err := e.songs.GenerateAndWait(ctx, SongRequest{
		Prompt: songPrompt(text),
		Style:  payload.Voice.Style,
		Title:  documentTitle(payload),
	})
	if err != nil {
		if errors.Is(err, ErrGenerationFailed) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	e.logger.DebugContext(ctx, "song generated", "task_id", task.ID, "bytes", len(audio))
	return storeOutput(ctx, e.source.blobs, task, payload, audio)
}

// songPrompt condenses a reading into a lyric prompt. Providers cap prompt
// length well below a full document, so only the opening of the reading is
// sent.
func songPrompt(text string) string {
	const maxRunes = 2000
	excerpt := text
	if utf8.RuneCountInString(excerpt) > maxRunes {
		runes := []rune(excerpt)
		excerpt = string(runes[:maxRunes])
	}
	return "Write and perform a song inspired by this personal reading:\n\n" + excerpt
}

// storeOutput writes executor output to blob storage under the task's key.
func storeOutput(ctx context.Context, blobs BlobStore, task *domain.Task, payload domain.TaskPayload, data []byte) (*Result, error) {
	key, err := storageKey(task, payload)
	if err != nil {
		return nil, Permanent(err)
	}
	storedKey, err := blobs.Write(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("store output: %w", err)
	}
	return &Result{StorageKey: storedKey}, nil
}
