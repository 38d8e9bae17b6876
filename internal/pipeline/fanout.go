package pipeline

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

// ReadyForFanout reports whether a job's derived tasks may be inserted: every
// leaf text task has reached a terminal state. A permanently failed leaf does
// not block fan-out; it simply contributes no derived tasks.
func ReadyForFanout(stats store.JobTaskStats) bool {
	total := stats.TotalOfType(domain.TaskTypeText)
	return total > 0 && stats.TerminalOfType(domain.TaskTypeText) == total
}

// BuildDerivedTasks builds the pdf, audio, and song tasks for every completed
// leaf of a job. Derived tasks inherit the leaf's system and role, and
// reference the leaf and its text artifact.
//
// Each derived sequence is a pure function of the leaf's own sequence, so a
// leaf's slots are the same no matter which leaves were completed when the
// rule ran. A fan-out re-evaluated after an admin retry then reproduces the
// existing rows exactly and only the retried leaf's slots insert.
//
// artifactsByTask maps leaf task IDs to their text artifacts; a completed leaf
// without an artifact is a store inconsistency and returns an error.
func BuildDerivedTasks(
	job *domain.Job,
	leaves []*domain.Task,
	artifactsByTask map[uuid.UUID]*domain.Artifact,
	settings Settings,
) ([]*domain.Task, error) {
	completed := make([]*domain.Task, 0, len(leaves))
	maxSeq := 0
	for _, leaf := range leaves {
		if leaf.Sequence > maxSeq {
			maxSeq = leaf.Sequence
		}
		if leaf.Status == domain.TaskStatusCompleted {
			completed = append(completed, leaf)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Sequence < completed[j].Sequence
	})

	var derived []*domain.Task
	for _, leaf := range completed {
		artifact, ok := artifactsByTask[leaf.ID]
		if !ok {
			return nil, fmt.Errorf("completed leaf task %s has no text artifact", leaf.ID)
		}

		payload, err := leaf.DecodePayload()
		if err != nil {
			return nil, fmt.Errorf("leaf task %s: %w", leaf.ID, err)
		}

		for i, taskType := range domain.DerivedTaskTypes {
			ts, ok := settings[taskType]
			if !ok {
				return nil, fmt.Errorf("missing settings for task type %q", taskType)
			}

			seq := maxSeq + (leaf.Sequence-1)*len(domain.DerivedTaskTypes) + i + 1
			leafID := leaf.ID
			artifactID := artifact.ID
			task, err := domain.NewTask(
				job.ID,
				taskType,
				seq,
				domain.TaskPayload{
					System:           payload.System,
					Role:             payload.Role,
					Subjects:         payload.Subjects,
					Voice:            payload.Voice,
					SourceTaskID:     &leafID,
					SourceArtifactID: &artifactID,
				},
				ts.HeartbeatTimeout,
				ts.MaxAttempts,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to build derived task: %w", err)
			}
			derived = append(derived, task)
		}
	}

	return derived, nil
}
