package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactType identifies the media type of a produced artifact.
type ArtifactType string

// Possible artifact types.
const (
	ArtifactTypeText  ArtifactType = "text"
	ArtifactTypePDF   ArtifactType = "pdf"
	ArtifactTypeAudio ArtifactType = "audio"
	ArtifactTypeSong  ArtifactType = "audio_song"
)

// Common validation errors for Artifact.
var (
	ErrEmptyArtifactID     = errors.New("artifact ID cannot be empty")
	ErrEmptyArtifactJobID  = errors.New("artifact job ID cannot be empty")
	ErrEmptyArtifactTaskID = errors.New("artifact task ID cannot be empty")
	ErrEmptyStorageKey     = errors.New("artifact storage key cannot be empty")
)

// ArtifactMeta tags an artifact with which document it renders.
type ArtifactMeta struct {
	DocumentNumber int          `json:"document_number"`
	Role           DocumentRole `json:"role"`
	System         System       `json:"system,omitempty"`
}

// Artifact is the immutable output of one completed task. Artifacts are
// append-only: regenerating content creates a new artifact rather than
// mutating an old one.
type Artifact struct {
	ID         uuid.UUID    `json:"id"`
	JobID      uuid.UUID    `json:"job_id"`
	TaskID     uuid.UUID    `json:"task_id"`
	Type       ArtifactType `json:"type"`
	StorageKey string       `json:"storage_key"`
	Meta       ArtifactMeta `json:"meta"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NewArtifact creates an Artifact for the given job and task.
func NewArtifact(
	jobID, taskID uuid.UUID,
	artifactType ArtifactType,
	storageKey string,
	meta ArtifactMeta,
) (*Artifact, error) {
	artifact := &Artifact{
		ID:         uuid.New(),
		JobID:      jobID,
		TaskID:     taskID,
		Type:       artifactType,
		StorageKey: storageKey,
		Meta:       meta,
		CreatedAt:  time.Now().UTC(),
	}

	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	return artifact, nil
}

// Validate checks if the Artifact has valid data.
func (a *Artifact) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyArtifactID
	}
	if a.JobID == uuid.Nil {
		return ErrEmptyArtifactJobID
	}
	if a.TaskID == uuid.Nil {
		return ErrEmptyArtifactTaskID
	}
	if !isValidArtifactType(a.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidArtifactType, a.Type)
	}
	if a.StorageKey == "" {
		return ErrEmptyStorageKey
	}
	if !IsValidDocumentRole(a.Meta.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentRole, a.Meta.Role)
	}
	return nil
}

// ArtifactTypeForTask maps a task type to the artifact type it produces.
func ArtifactTypeForTask(t TaskType) (ArtifactType, error) {
	switch t {
	case TaskTypeText:
		return ArtifactTypeText, nil
	case TaskTypePDF:
		return ArtifactTypePDF, nil
	case TaskTypeAudio:
		return ArtifactTypeAudio, nil
	case TaskTypeSong:
		return ArtifactTypeSong, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, t)
	}
}

// isValidArtifactType checks if the given type is a known ArtifactType.
func isValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactTypeText, ArtifactTypePDF, ArtifactTypeAudio, ArtifactTypeSong:
		return true
	default:
		return false
	}
}
