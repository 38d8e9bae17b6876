package pipeline

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// typeLabels maps task types to the short names used in progress messages.
var typeLabels = map[domain.TaskType]string{
	domain.TaskTypeText:  "text",
	domain.TaskTypePDF:   "pdf",
	domain.TaskTypeAudio: "audio",
	domain.TaskTypeSong:  "song",
}

// Aggregate folds a job's task counts into a Progress snapshot. The snapshot
// is derived entirely from the counts; there are no separate counters to keep
// in sync.
//
// Percent is computed against the projected final task count, not the rows
// that happen to exist yet: each leaf is expected to spawn one pdf, audio, and
// song task if it completes. The projection starts at four tasks per leaf and
// only shrinks as leaves fail permanently, so the percent never decreases when
// the fan-out inserts the derived rows.
func Aggregate(stats store.JobTaskStats) domain.Progress {
	total := stats.Total()
	terminal := stats.Terminal()

	leaves := stats.TotalOfType(domain.TaskTypeText)
	failedLeaves := stats.CountOf(domain.TaskTypeText, domain.TaskStatusFailed)
	projected := 4*leaves - 3*failedLeaves

	percent := 0
	if projected > 0 {
		percent = 100 * terminal / projected
		if percent > 100 {
			percent = 100
		}
	}

	progress := domain.Progress{
		Percent:        percent,
		TotalTasks:     total,
		CompletedTasks: terminal,
	}

	if total == 0 {
		progress.Phase = "queued"
		progress.Message = "waiting for tasks"
		return progress
	}

	for _, taskType := range domain.AllTaskTypes {
		n := stats.TotalOfType(taskType)
		done := stats.TerminalOfType(taskType)
		if n == 0 || done == n {
			continue
		}
		current := done + 1
		progress.Phase = typeLabels[taskType]
		progress.Message = fmt.Sprintf("generating %s %d/%d", typeLabels[taskType], current, n)
		return progress
	}

	progress.Phase = "finished"
	if stats.Failed() > 0 {
		progress.Message = fmt.Sprintf("finished with %d failed task(s)", stats.Failed())
	} else {
		progress.Message = "all documents generated"
	}
	return progress
}

// ResolveStatus derives the job status from task counts alone. A job is
// queued until a worker claims something, completed only when every task is
// terminal with zero failures, and errored when every task is terminal with
// at least one permanent failure.
func ResolveStatus(stats store.JobTaskStats) domain.JobStatus {
	total := stats.Total()
	if total == 0 {
		return domain.JobStatusQueued
	}
	if stats.Terminal() == total {
		if stats.Failed() > 0 {
			return domain.JobStatusError
		}
		return domain.JobStatusCompleted
	}
	if stats.Claimed() == 0 && stats.Terminal() == 0 {
		return domain.JobStatusQueued
	}
	return domain.JobStatusProcessing
}

// BuildResults assembles the client-facing document list from a job's
// terminal tasks. Completed tasks contribute their artifact; permanently
// failed tasks are listed with the failure flag set rather than silently
// omitted. Returns the list and whether any document is missing.
func BuildResults(
	tasks []*domain.Task,
	artifactsByTask map[uuid.UUID]*domain.Artifact,
) ([]domain.DocumentRef, bool, error) {
	ordered := make([]*domain.Task, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	var (
		results []domain.DocumentRef
		partial bool
	)
	for _, task := range ordered {
		switch task.Status {
		case domain.TaskStatusCompleted:
			artifact, ok := artifactsByTask[task.ID]
			if !ok {
				return nil, false, fmt.Errorf("completed task %s has no artifact", task.ID)
			}
			results = append(results, domain.DocumentRef{
				ArtifactID:   artifact.ID,
				System:       artifact.Meta.System,
				Role:         artifact.Meta.Role,
				ArtifactType: artifact.Type,
				StorageKey:   artifact.StorageKey,
			})

		case domain.TaskStatusFailed:
			partial = true
			payload, err := task.DecodePayload()
			if err != nil {
				return nil, false, fmt.Errorf("failed task %s: %w", task.ID, err)
			}
			artifactType, err := domain.ArtifactTypeForTask(task.Type)
			if err != nil {
				return nil, false, err
			}
			results = append(results, domain.DocumentRef{
				System:       payload.System,
				Role:         payload.Role,
				ArtifactType: artifactType,
				Failed:       true,
				Error:        task.ErrorMessage,
			})
		}
	}

	return results, partial, nil
}
