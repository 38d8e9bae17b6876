package pipeline

import (
	"fmt"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// PlanLeafTasks builds the leaf text-generation task set for a job. Planning
// is deterministic: the same job always yields the same documents in the same
// sequence order, so re-planning collides on the (job_id, sequence) constraint
// instead of duplicating work.
//
// Systems are walked in canonical order regardless of the order the client
// listed them. Within each system the roles are person1, then person2 when
// the job has two subjects, then overlay when the job type compares subjects.
// Jobs that end with a cross-system verdict get one final leaf sequenced after
// everything else.
func PlanLeafTasks(job *domain.Job, settings Settings) ([]*domain.Task, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("cannot plan invalid job: %w", err)
	}

	ts, ok := settings[domain.TaskTypeText]
	if !ok {
		return nil, fmt.Errorf("missing settings for task type %q", domain.TaskTypeText)
	}

	wanted := make(map[domain.System]bool, len(job.Params.Systems))
	for _, s := range job.Params.Systems {
		wanted[s] = true
	}

	roles := []domain.DocumentRole{domain.RolePerson1}
	if len(job.Params.Subjects) == 2 {
		roles = append(roles, domain.RolePerson2)
	}
	if job.RequiresOverlay() {
		roles = append(roles, domain.RoleOverlay)
	}

	var tasks []*domain.Task
	seq := 0
	for _, system := range domain.AllSystems {
		if !wanted[system] {
			continue
		}
		for _, role := range roles {
			seq++
			task, err := domain.NewTask(
				job.ID,
				domain.TaskTypeText,
				seq,
				leafPayload(job, system, role),
				ts.HeartbeatTimeout,
				ts.MaxAttempts,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to build leaf task: %w", err)
			}
			tasks = append(tasks, task)
		}
	}

	if job.RequiresVerdict() {
		seq++
		task, err := domain.NewTask(
			job.ID,
			domain.TaskTypeText,
			seq,
			leafPayload(job, "", domain.RoleVerdict),
			ts.HeartbeatTimeout,
			ts.MaxAttempts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build verdict task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// leafPayload builds the executor input for one leaf document. Single-person
// documents carry only their own subject; overlay and verdict documents carry
// both.
func leafPayload(job *domain.Job, system domain.System, role domain.DocumentRole) domain.TaskPayload {
	p := domain.TaskPayload{
		System: system,
		Role:   role,
		Voice:  job.Params.Voice,
	}

	switch role {
	case domain.RolePerson1:
		p.Subjects = job.Params.Subjects[:1]
	case domain.RolePerson2:
		p.Subjects = job.Params.Subjects[1:2]
	default:
		p.Subjects = job.Params.Subjects
	}

	return p
}
