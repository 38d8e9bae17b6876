// Package gemini adapts the Gemini API to the generation.TextGenerator
// interface. It owns retry handling and error classification so executors see
// only the generation package's sentinel errors.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/generation"
)

// ErrInvalidConfig is returned when the client configuration is incomplete.
var ErrInvalidConfig = errors.New("invalid gemini configuration")

// Config holds the settings for the Gemini client.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// Model names the model used for reading generation.
	Model string
	// MaxRetries is the number of additional calls after a transient failure.
	MaxRetries int
	// RetryDelay is the base delay between retries, doubled per attempt with
	// jitter applied.
	RetryDelay time.Duration
}

// contentCaller is the slice of the genai client the generator uses. It
// exists so tests can substitute a fake model.
type contentCaller interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates reading prose through the Gemini API. It implements
// generation.TextGenerator.
type Client struct {
	logger *slog.Logger
	caller contentCaller
	model  string

	maxRetries int
	retryDelay time.Duration
}

// NewClient validates the configuration and initializes a Gemini-backed
// text generator.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &Client{
		logger:     logger,
		caller:     client.Models,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// GenerateReading implements generation.TextGenerator. Transient API failures
// are retried with exponential backoff and jitter; safety blocks and malformed
// responses are returned immediately.
func (c *Client) GenerateReading(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", generation.ErrGenerationFailed)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rng.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay + jitter):
			}
		}

		c.logger.DebugContext(ctx, "calling Gemini API",
			"model", c.model,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries+1)

		resp, err := c.caller.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
			c.logger.WarnContext(ctx, "Gemini API call failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		text, err := extractText(resp)
		if err != nil {
			// Safety blocks and empty responses do not improve on retry.
			return "", err
		}
		return text, nil
	}

	return "", lastErr
}

// extractText pulls the generated prose out of a response, classifying
// blocked or empty responses.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: finish reason safety", generation.ErrContentBlocked)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: candidate has no content", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: candidate has no text parts", generation.ErrInvalidResponse)
	}
	return b.String(), nil
}
