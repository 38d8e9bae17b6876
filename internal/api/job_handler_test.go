package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/events"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/mocks"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/service"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

type apiFixture struct {
	router http.Handler
	tasks  *mocks.MemoryTaskStore
	jobs   *mocks.MemoryJobStore
	coord  *pipeline.Coordinator
}

func passthroughTx(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := mocks.NewMemoryJobStore()
	tasks := mocks.NewMemoryTaskStore()
	artifacts := mocks.NewMemoryArtifactStore()

	coord, err := pipeline.NewCoordinator(jobs, tasks, artifacts, pipeline.DefaultSettings(), logger)
	require.NoError(t, err)

	emitter := events.NewInMemoryEmitter(logger)
	bridge, err := service.NewPlannerBridge(passthroughTx, jobs, coord, logger)
	require.NoError(t, err)
	emitter.RegisterHandler(bridge)

	readings, err := service.NewReadingService(passthroughTx, jobs, tasks, coord, emitter, logger)
	require.NoError(t, err)

	return &apiFixture{
		router: NewRouter(readings, logger),
		tasks:  tasks,
		jobs:   jobs,
		coord:  coord,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-Id", "user-77")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func createJobBody() map[string]any {
	return map[string]any{
		"job_type": "complete_reading",
		"subjects": []map[string]string{
			{"name": "Ada", "birth_date": "1990-03-14"},
			{"name": "Ben", "birth_date": "1988-11-02"},
		},
		"systems": []string{"western", "vedic", "chinese", "numerology", "human_design"},
	}
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) JobResponse {
	t.Helper()
	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateJob_AcceptedAndPlanned(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/jobs", createJobBody())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decodeJob(t, rec)
	assert.Equal(t, domain.JobTypeCompleteReading, resp.JobType)
	assert.Equal(t, domain.JobStatusQueued, resp.Status)

	tasks, err := f.tasks.ListByJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 11)
}

func TestCreateJob_Validation(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing subjects", body: map[string]any{"job_type": "single_system", "systems": []string{"vedic"}}},
		{
			name: "unknown job type",
			body: map[string]any{
				"job_type": "mega_bundle",
				"subjects": []map[string]string{{"name": "Ada", "birth_date": "1990-03-14"}},
			},
		},
		{
			name: "compatibility with one subject",
			body: map[string]any{
				"job_type": "compatibility_overlay",
				"subjects": []map[string]string{{"name": "Ada", "birth_date": "1990-03-14"}},
				"systems":  []string{"vedic"},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := f.do(t, http.MethodPost, "/api/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateJob_MalformedBody(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-User-Id", "user-77")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_ReturnsProgress(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	created := decodeJob(t, f.do(t, http.MethodPost, "/api/jobs", createJobBody()))

	rec := f.do(t, http.MethodGet, "/api/jobs/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJob(t, rec)
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, 11, resp.Progress.TotalTasks)
	assert.Zero(t, resp.Progress.Percent)
}

func TestGetJob_NotFoundAndBadID(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob_Endpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	created := decodeJob(t, f.do(t, http.MethodPost, "/api/jobs", createJobBody()))

	rec := f.do(t, http.MethodPost, "/api/jobs/"+created.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJob(t, rec)
	assert.Equal(t, domain.JobStatusError, resp.Status)

	// A second cancel conflicts with the terminal state.
	rec = f.do(t, http.MethodPost, "/api/jobs/"+created.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryTask_Endpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ctx := context.Background()
	created := decodeJob(t, f.do(t, http.MethodPost, "/api/jobs", createJobBody()))

	// Fail one leaf permanently so it becomes retryable.
	task, err := f.tasks.Claim(ctx, "w1", nil)
	require.NoError(t, err)
	require.NoError(t, f.tasks.FailPermanently(ctx, task.ID, "w1", "provider rejected prompt"))
	require.NoError(t, f.coord.TaskFinalized(ctx, created.ID))

	rec := f.do(t, http.MethodPost, "/api/tasks/"+task.ID.String()+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	refreshed, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, refreshed.Status)

	// Retrying a pending task conflicts.
	rec = f.do(t, http.MethodPost, "/api/tasks/"+task.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatewayIdentity_Required(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
