package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which product a job was purchased as. The type determines
// how many subjects are expected, whether per-system overlay documents are
// generated, and whether a cross-system verdict document is added.
type JobType string

// Possible job types, matching the store products.
const (
	JobTypeSingleSystem    JobType = "single_system"
	JobTypeCompleteReading JobType = "complete_reading"
	JobTypeCompatibility   JobType = "compatibility_overlay"
	JobTypeNuclear         JobType = "nuclear_package"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values. Completed and Error are terminal: a job never
// leaves them except via an explicit retry action on one of its tasks.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Common validation errors for Job.
var (
	ErrEmptyJobID          = errors.New("job ID cannot be empty")
	ErrNoSubjects          = errors.New("job requires at least one subject")
	ErrTooManySubjects     = errors.New("job supports at most two subjects")
	ErrSecondSubjectNeeded = errors.New("job type requires a second subject")
	ErrNoSystems           = errors.New("job requires at least one system")
	ErrSingleSystemOnly    = errors.New("job type allows exactly one system")
	ErrDuplicateSystem     = errors.New("job lists the same system twice")
)

// Subject describes one person a reading is generated for. Birth data is
// carried through to the executors verbatim; the pipeline itself never
// interprets it.
type Subject struct {
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date"`
	BirthTime  string `json:"birth_time,omitempty"`
	BirthPlace string `json:"birth_place,omitempty"`
}

// VoiceOptions selects narration voice and style for audio and song synthesis.
type VoiceOptions struct {
	VoiceID string `json:"voice_id,omitempty"`
	Style   string `json:"style,omitempty"`
}

// JobParams is the user-supplied input of a job.
type JobParams struct {
	Subjects []Subject    `json:"subjects"`
	Systems  []System     `json:"systems"`
	Voice    VoiceOptions `json:"voice,omitempty"`
}

// Progress summarizes task completion for client display. It is derived from
// task rows and is advisory: correctness never depends on it.
type Progress struct {
	Percent        int    `json:"percent"`
	Phase          string `json:"phase"`
	Message        string `json:"message"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
}

// DocumentRef points a client at one produced document. Failed documents are
// listed explicitly rather than silently omitted.
type DocumentRef struct {
	ArtifactID   uuid.UUID    `json:"artifact_id,omitempty"`
	System       System       `json:"system,omitempty"`
	Role         DocumentRole `json:"role"`
	ArtifactType ArtifactType `json:"artifact_type"`
	StorageKey   string       `json:"storage_key,omitempty"`
	Failed       bool         `json:"failed,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Job represents one end-to-end user request to generate a multi-document
// reading. It is created when a client submits a request and mutated only by
// the progress aggregator and terminal-state transitions.
type Job struct {
	ID             uuid.UUID     `json:"id"`
	Type           JobType       `json:"type"`
	Status         JobStatus     `json:"status"`
	Params         JobParams     `json:"params"`
	Progress       Progress      `json:"progress"`
	Results        []DocumentRef `json:"results,omitempty"`
	PartialResults bool          `json:"partial_results,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewJob creates a queued Job with the given type and parameters.
// Returns an error if validation fails.
func NewJob(jobType JobType, params JobParams) (*Job, error) {
	job := &Job{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks the job's type, status, and parameters.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if !isValidJobType(j.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidJobType, j.Type)
	}

	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}

	switch n := len(j.Params.Subjects); {
	case n == 0:
		return ErrNoSubjects
	case n > 2:
		return ErrTooManySubjects
	case n == 1 && j.RequiresOverlay():
		return ErrSecondSubjectNeeded
	}

	if len(j.Params.Systems) == 0 {
		return ErrNoSystems
	}
	if j.Type == JobTypeSingleSystem && len(j.Params.Systems) != 1 {
		return ErrSingleSystemOnly
	}
	if j.Type == JobTypeCompatibility && len(j.Params.Systems) != 1 {
		return ErrSingleSystemOnly
	}

	seen := make(map[System]bool, len(j.Params.Systems))
	for _, s := range j.Params.Systems {
		if !IsValidSystem(s) {
			return fmt.Errorf("%w: %q", ErrInvalidSystem, s)
		}
		if seen[s] {
			return fmt.Errorf("%w: %q", ErrDuplicateSystem, s)
		}
		seen[s] = true
	}

	return nil
}

// RequiresVerdict reports whether the job type ends with a cross-system
// synthesis document.
func (j *Job) RequiresVerdict() bool {
	return j.Type == JobTypeCompleteReading || j.Type == JobTypeNuclear
}

// RequiresOverlay reports whether the job type includes a per-system
// compatibility overlay document. Overlay documents always compare two
// subjects.
func (j *Job) RequiresOverlay() bool {
	return j.Type == JobTypeCompatibility || j.Type == JobTypeNuclear
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusError
}

// UpdateStatus transitions the job to the given status. Terminal states are
// final: transitioning out of completed or error returns ErrTerminalState.
func (j *Job) UpdateStatus(status JobStatus) error {
	if !isValidJobStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, status)
	}
	if j.IsTerminal() && status != j.Status {
		return fmt.Errorf("%w: job %s is %s", ErrTerminalState, j.ID, j.Status)
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// isValidJobType checks if the given type is a known JobType.
func isValidJobType(t JobType) bool {
	switch t {
	case JobTypeSingleSystem, JobTypeCompleteReading, JobTypeCompatibility, JobTypeNuclear:
		return true
	default:
		return false
	}
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusError:
		return true
	default:
		return false
	}
}
