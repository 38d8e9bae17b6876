// Package metrics exposes Prometheus instrumentation for the task pipeline.
// Collectors are registered once at package load; the Recorder is a thin
// stateless facade so callers never touch label plumbing directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksClaimed tracks claimed tasks per type.
	tasksClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tasks_claimed_total",
		Help: "Total number of tasks claimed by workers, by task type",
	}, []string{"task_type"})

	// emptyClaims tracks polls that found nothing to do.
	emptyClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_claims_empty_total",
		Help: "Total number of claim attempts that found no pending task",
	})

	// taskDuration tracks execution time per type and outcome.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_task_duration_seconds",
		Help:    "Task execution time by task type and outcome",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"task_type", "outcome"}) // outcome: completed, retried, failed

	// tasksReclaimed tracks monitor interventions on stale tasks.
	tasksReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tasks_reclaimed_total",
		Help: "Total number of stale tasks reclaimed by the timeout monitor, by action",
	}, []string{"task_type", "action"}) // action: reset, failed

	// fanouts tracks derived-task insertions.
	fanouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_fanouts_total",
		Help: "Total number of derived task fan-outs performed",
	})

	// jobsFinished tracks jobs reaching a terminal status.
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_finished_total",
		Help: "Total number of jobs reaching a terminal status, by job type and status",
	}, []string{"job_type", "status"})

	// httpRequestDuration tracks API latency.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method, route, and status code",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route", "status"})
)

// Recorder provides methods to record pipeline metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordClaim records a successful task claim.
func (r *Recorder) RecordClaim(taskType string) {
	tasksClaimed.WithLabelValues(taskType).Inc()
}

// RecordEmptyClaim records a poll that found no pending task.
func (r *Recorder) RecordEmptyClaim() {
	emptyClaims.Inc()
}

// RecordExecution records one task execution with its outcome.
func (r *Recorder) RecordExecution(taskType, outcome string, duration time.Duration) {
	taskDuration.WithLabelValues(taskType, outcome).Observe(duration.Seconds())
}

// RecordReclaim records a timeout monitor intervention.
func (r *Recorder) RecordReclaim(taskType, action string) {
	tasksReclaimed.WithLabelValues(taskType, action).Inc()
}

// RecordFanout records one derived-task fan-out.
func (r *Recorder) RecordFanout() {
	fanouts.Inc()
}

// RecordJobFinished records a job reaching a terminal status.
func (r *Recorder) RecordJobFinished(jobType, status string) {
	jobsFinished.WithLabelValues(jobType, status).Inc()
}

// RecordHTTPRequest records one API request.
func (r *Recorder) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
