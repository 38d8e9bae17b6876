package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// providerClient holds the plumbing shared by the render, speech, and song
// clients: base URL, bearer auth, and JSON request helpers. Failed requests
// are classified so the worker's retry logic can act on them: client-side
// rejections wrap ErrGenerationFailed, everything retryable wraps
// ErrTransientFailure.
type providerClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

func newProviderClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) providerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return providerClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// post sends a POST request with JSON body and parses a JSON response.
func (c *providerClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	respBody, err := c.doRequest(req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// postRaw sends a POST request with JSON body and returns the raw response
// bytes, for endpoints that answer with binary content.
func (c *providerClient) postRaw(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

// get sends a GET request and parses a JSON response.
func (c *providerClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	respBody, err := c.doRequest(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// download fetches raw bytes from an absolute URL, typically a signed asset
// URL returned by a status endpoint.
func (c *providerClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// doRequest executes an HTTP request and reads the full response body.
func (c *providerClient) doRequest(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransientFailure, err)
	}

	c.logger.DebugContext(req.Context(), "provider response",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"bytes", len(respBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned status %d: %s", ErrTransientFailure, resp.StatusCode, truncate(respBody))
	default:
		return nil, fmt.Errorf("%w: provider returned status %d: %s", ErrGenerationFailed, resp.StatusCode, truncate(respBody))
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// RenderClient talks to the PDF rendering service. Rendering is synchronous:
// the service answers a render request with the PDF bytes directly.
type RenderClient struct {
	providerClient
}

// RenderRequest is the input to a PDF render call.
type RenderRequest struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// NewRenderClient creates a RenderClient.
func NewRenderClient(baseURL, apiKey string, logger *slog.Logger) *RenderClient {
	return &RenderClient{providerClient: newProviderClient(baseURL, apiKey, 60*time.Second, logger)}
}

// RenderPDF renders markdown into a PDF and returns the document bytes.
func (c *RenderClient) RenderPDF(ctx context.Context, req RenderRequest) ([]byte, error) {
	pdf, err := c.postRaw(ctx, "/v1/documents/render", req)
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty PDF response", ErrInvalidResponse)
	}
	return pdf, nil
}

// SpeechClient talks to the narration synthesis service. Synthesis is
// synchronous: the service answers with the audio bytes directly.
type SpeechClient struct {
	providerClient
}

// SpeechRequest is the input to a narration synthesis call.
type SpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
	Style   string `json:"style,omitempty"`
}

// NewSpeechClient creates a SpeechClient.
func NewSpeechClient(baseURL, apiKey string, logger *slog.Logger) *SpeechClient {
	return &SpeechClient{providerClient: newProviderClient(baseURL, apiKey, 5*time.Minute, logger)}
}

// Synthesize narrates the given text and returns the audio bytes.
func (c *SpeechClient) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	audio, err := c.postRaw(ctx, "/v1/speech/synthesize", req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", ErrInvalidResponse)
	}
	return audio, nil
}

// SongClient talks to the song generation service. Generation is
// asynchronous: a generate call returns a provider task ID which is polled
// until the track is ready, then the audio is downloaded.
type SongClient struct {
	providerClient
	pollInterval time.Duration
	maxWait      time.Duration
}

// SongRequest is the input to a song generation call.
type SongRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Title  string `json:"title,omitempty"`
}

type songSubmission struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SongStatus is one poll of an in-flight song generation.
type SongStatus struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewSongClient creates a SongClient.
func NewSongClient(baseURL, apiKey string, pollInterval, maxWait time.Duration, logger *slog.Logger) *SongClient {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}
	return &SongClient{
		providerClient: newProviderClient(baseURL, apiKey, 60*time.Second, logger),
		pollInterval:   pollInterval,
		maxWait:        maxWait,
	}
}

// Generate submits a song generation request and returns the provider task ID.
func (c *SongClient) Generate(ctx context.Context, req SongRequest) (string, error) {
	var result songSubmission
	if err := c.post(ctx, "/v1/music/generate", req, &result); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("%w: submission returned no task ID", ErrInvalidResponse)
	}
	return result.TaskID, nil
}

// Status retrieves the current state of a song generation task.
func (c *SongClient) Status(ctx context.Context, taskID string) (*SongStatus, error) {
	var result SongStatus
	if err := c.get(ctx, fmt.Sprintf("/v1/music/status/%s", taskID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateAndWait submits a song request, polls until the track is ready, and
// returns the downloaded audio bytes. Exceeding the poll budget is reported
// as transient so the task can retry against a less loaded provider queue.
func (c *SongClient) GenerateAndWait(ctx context.Context, req SongRequest) ([]byte, error) {
	taskID, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, err := c.Status(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed", "success":
			if status.AudioURL == "" {
				return nil, fmt.Errorf("%w: completed song has no audio URL", ErrInvalidResponse)
			}
			audio, err := c.download(ctx, status.AudioURL)
			if err != nil {
				return nil, err
			}
			if len(audio) == 0 {
				return nil, fmt.Errorf("%w: empty song audio", ErrInvalidResponse)
			}
			return audio, nil
		case "failed", "error":
			return nil, fmt.Errorf("%w: song generation failed: %s", ErrGenerationFailed, status.Error)
		}
	}

	return nil, fmt.Errorf("%w: song task %s not ready after %s", ErrTransientFailure, taskID, c.maxWait)
}
