package api

import (
	"log/slog"
	"net/http"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api/shared"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/service"
)

// JobHandler serves the job endpoints.
type JobHandler struct {
	readings *service.ReadingService
	logger   *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(readings *service.ReadingService, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		readings: readings,
		logger:   logger.With(slog.String("component", "job_handler")),
	}
}

// CreateJob handles POST /api/jobs: it validates the request, persists the
// job, and returns it in the queued state. Generation happens asynchronously;
// clients poll GetJob for progress.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid job request", err)
		return
	}

	params := domain.JobParams{
		Subjects: req.Subjects,
		Systems:  req.Systems,
	}
	if req.Voice != nil {
		params.Voice = *req.Voice
	}

	job, err := h.readings.EnqueueJob(r.Context(), req.JobType, params)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "job created",
		"job_id", job.ID,
		"job_type", job.Type,
		"user_id", shared.GetUserID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusAccepted, NewJobResponse(job))
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	job, err := h.readings.GetJob(r.Context(), jobID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}

// CancelJob handles POST /api/jobs/{id}/cancel.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	job, err := h.readings.CancelJob(r.Context(), jobID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "job cancelled",
		"job_id", job.ID,
		"user_id", shared.GetUserID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}

// RetryTask handles POST /api/tasks/{id}/retry: it moves a failed task back
// to pending and returns the task's job, reopened if it had errored.
func (h *JobHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	job, err := h.readings.RetryTask(r.Context(), taskID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "task retry requested",
		"task_id", taskID,
		"job_id", job.ID,
		"user_id", shared.GetUserID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}
