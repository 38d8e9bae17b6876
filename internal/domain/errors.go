// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobType is returned when a job type is not one of the known products.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobStatus is returned when a job status is not valid.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidTaskType is returned when a task type is not valid.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidSystem is returned when an interpretive system is not one of the fixed five.
	ErrInvalidSystem = errors.New("invalid interpretive system")

	// ErrInvalidDocumentRole is returned when a document role is not valid.
	ErrInvalidDocumentRole = errors.New("invalid document role")

	// ErrInvalidArtifactType is returned when an artifact type is not valid.
	ErrInvalidArtifactType = errors.New("invalid artifact type")

	// ErrTerminalState is returned when an entity in a terminal state is asked
	// to transition to another state without an explicit retry action.
	ErrTerminalState = errors.New("entity is in a terminal state")
)
