package generation

import "errors"

// Sentinel errors for content generation. Executors wrap these so the worker
// can tell retryable provider hiccups from failures that retrying cannot fix.
var (
	// ErrGenerationFailed indicates the provider rejected the request outright,
	// for example by returning a 4xx status. Retrying the same input would
	// produce the same rejection.
	ErrGenerationFailed = errors.New("content generation failed")

	// ErrInvalidResponse indicates the provider answered but the response was
	// empty or could not be parsed.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrContentBlocked indicates the provider's safety filters blocked the
	// generated content.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrTransientFailure indicates a temporary provider condition such as
	// rate limiting, a 5xx status, or a network timeout.
	ErrTransientFailure = errors.New("transient provider failure")

	// ErrMissingSource indicates a derived task's payload does not reference a
	// completed text task, or the referenced artifact is gone.
	ErrMissingSource = errors.New("missing source text for derived task")
)
