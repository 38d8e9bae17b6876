package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of work a task performs. Text generation tasks
// are leaves; the other three are derived from a completed text task.
type TaskType string

// Possible task types.
const (
	TaskTypeText  TaskType = "text_generation"
	TaskTypePDF   TaskType = "pdf_generation"
	TaskTypeAudio TaskType = "audio_generation"
	TaskTypeSong  TaskType = "song_generation"
)

// AllTaskTypes lists every task type, derived types in fan-out order.
var AllTaskTypes = []TaskType{TaskTypeText, TaskTypePDF, TaskTypeAudio, TaskTypeSong}

// DerivedTaskTypes lists the task types fanned out from each completed text
// task, in the order their sequence numbers are assigned.
var DerivedTaskTypes = []TaskType{TaskTypePDF, TaskTypeAudio, TaskTypeSong}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values. Completed and Failed are terminal; a task only
// leaves them through an explicit, auditable retry action.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusClaimed    TaskStatus = "claimed"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for Task.
var (
	ErrEmptyTaskID    = errors.New("task ID cannot be empty")
	ErrEmptyTaskJobID = errors.New("task job ID cannot be empty")
	ErrBadSequence    = errors.New("task sequence must be positive")
	ErrBadMaxAttempts = errors.New("task max attempts must be positive")
)

// TaskPayload carries the executor input for one task. The pipeline treats it
// as opaque; only the planner writes it and only executors read it.
type TaskPayload struct {
	System   System       `json:"system,omitempty"`
	Role     DocumentRole `json:"role"`
	Subjects []Subject    `json:"subjects"`
	Voice    VoiceOptions `json:"voice,omitempty"`

	// SourceTaskID and SourceArtifactID reference the completed text task a
	// derived task renders from. Unset on leaf tasks.
	SourceTaskID     *uuid.UUID `json:"source_task_id,omitempty"`
	SourceArtifactID *uuid.UUID `json:"source_artifact_id,omitempty"`
}

// Task is the unit of work claimed and executed by workers. At most one worker
// holds a non-terminal task at any instant; the claim protocol in the task
// store enforces this.
type Task struct {
	ID               uuid.UUID       `json:"id"`
	JobID            uuid.UUID       `json:"job_id"`
	Type             TaskType        `json:"type"`
	Sequence         int             `json:"sequence"`
	Status           TaskStatus      `json:"status"`
	Payload          json.RawMessage `json:"payload"`
	ClaimedBy        string          `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time      `json:"claimed_at,omitempty"`
	HeartbeatAt      *time.Time      `json:"heartbeat_at,omitempty"`
	HeartbeatTimeout time.Duration   `json:"heartbeat_timeout"`
	AttemptCount     int             `json:"attempt_count"`
	MaxAttempts      int             `json:"max_attempts"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending Task for the given job with the given sequence
// number and payload. The heartbeat timeout and max attempts come from the
// task type's configuration and are fixed at creation time.
func NewTask(
	jobID uuid.UUID,
	taskType TaskType,
	sequence int,
	payload TaskPayload,
	heartbeatTimeout time.Duration,
	maxAttempts int,
) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := &Task{
		ID:               uuid.New(),
		JobID:            jobID,
		Type:             taskType,
		Sequence:         sequence,
		Status:           TaskStatusPending,
		Payload:          raw,
		HeartbeatTimeout: heartbeatTimeout,
		MaxAttempts:      maxAttempts,
		CreatedAt:        time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.JobID == uuid.Nil {
		return ErrEmptyTaskJobID
	}
	if !IsValidTaskType(t.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, t.Type)
	}
	if !IsValidTaskStatus(t.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if t.Sequence <= 0 {
		return ErrBadSequence
	}
	if t.MaxAttempts <= 0 {
		return ErrBadMaxAttempts
	}
	return nil
}

// DecodePayload unmarshals the task's payload into a TaskPayload.
func (t *Task) DecodePayload() (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return TaskPayload{}, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return p, nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsValidTaskType checks if the given type is a known TaskType.
func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeText, TaskTypePDF, TaskTypeAudio, TaskTypeSong:
		return true
	default:
		return false
	}
}

// IsValidTaskStatus checks if the given status is a valid TaskStatus.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
