package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	JobType  domain.JobType       `json:"job_type" validate:"required"`
	Subjects []domain.Subject     `json:"subjects" validate:"required,min=1,max=2"`
	Systems  []domain.System      `json:"systems"`
	Voice    *domain.VoiceOptions `json:"voice,omitempty"`
}

// JobResponse is the representation of a job returned by every job endpoint.
type JobResponse struct {
	ID             uuid.UUID            `json:"id"`
	JobType        domain.JobType       `json:"job_type"`
	Status         domain.JobStatus     `json:"status"`
	Progress       domain.Progress      `json:"progress"`
	Results        []domain.DocumentRef `json:"results,omitempty"`
	PartialResults bool                 `json:"partial_results,omitempty"`
	Error          string               `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewJobResponse converts a domain job into its API representation.
func NewJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:             job.ID,
		JobType:        job.Type,
		Status:         job.Status,
		Progress:       job.Progress,
		Results:        job.Results,
		PartialResults: job.PartialResults,
		Error:          job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}
