// Package api exposes the HTTP surface of the pipeline: job submission,
// status polling, cancellation, and task retry.
package api

import (
	"errors"
	"net/http"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api/shared"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/service"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrArtifactNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrJobTerminal),
		errors.Is(err, service.ErrTaskNotRetryable):
		return http.StatusConflict

	case errors.Is(err, service.ErrInvalidJobRequest),
		errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns the user-facing message for an error. Internal
// detail stays in the logs.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrArtifactNotFound):
		return "Artifact not found"
	case errors.Is(err, service.ErrJobTerminal):
		return "Job is already finished"
	case errors.Is(err, service.ErrTaskNotRetryable):
		return "Only failed tasks can be retried"
	case errors.Is(err, service.ErrInvalidJobRequest):
		return "Invalid job request"
	case errors.Is(err, domain.ErrValidation):
		return "Validation failed"
	default:
		return "An internal error occurred"
	}
}

// respondWithServiceError writes the mapped status and safe message for err.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
