package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
)

func statsOf(cells ...store.TaskStatusCount) store.JobTaskStats {
	return store.JobTaskStats{Counts: cells}
}

func TestAggregate_Percent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		stats       store.JobTaskStats
		wantPercent int
	}{
		{
			name:        "no tasks",
			stats:       statsOf(),
			wantPercent: 0,
		},
		{
			name: "leaves only, none terminal",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusPending, Count: 11},
			),
			// projected final total is 44 tasks
			wantPercent: 0,
		},
		{
			name: "half the leaves done",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 6},
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusPending, Count: 5},
			),
			// 6 of 44
			wantPercent: 13,
		},
		{
			name: "all leaves done, derived just inserted",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusPending, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusPending, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusPending, Count: 11},
			),
			// 11 of 44
			wantPercent: 25,
		},
		{
			name: "everything terminal",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusCompleted, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusCompleted, Count: 11},
				store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusCompleted, Count: 11},
			),
			wantPercent: 100,
		},
		{
			name: "failed leaf shrinks the projection",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 15},
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusFailed, Count: 1},
			),
			// 16 of 4*16-3 = 61
			wantPercent: 26,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			progress := Aggregate(tt.stats)
			assert.Equal(t, tt.wantPercent, progress.Percent)
		})
	}
}

// Percent never decreases across the fan-out boundary: the last leaf
// completion and the derived insert land in the same transaction, so the
// snapshots on either side must be ordered.
func TestAggregate_MonotonicAcrossFanout(t *testing.T) {
	t.Parallel()

	before := Aggregate(statsOf(
		store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 10},
		store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusProcessing, Count: 1},
	))
	after := Aggregate(statsOf(
		store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 11},
		store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusPending, Count: 11},
		store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusPending, Count: 11},
		store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusPending, Count: 11},
	))

	assert.GreaterOrEqual(t, after.Percent, before.Percent)
}

func TestAggregate_Message(t *testing.T) {
	t.Parallel()

	progress := Aggregate(statsOf(
		store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 16},
		store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusCompleted, Count: 16},
		store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusCompleted, Count: 5},
		store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusProcessing, Count: 1},
		store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusPending, Count: 10},
		store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusPending, Count: 16},
	))

	assert.Equal(t, "audio", progress.Phase)
	assert.Equal(t, "generating audio 6/16", progress.Message)
}

func TestResolveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stats store.JobTaskStats
		want  domain.JobStatus
	}{
		{
			name:  "no tasks yet",
			stats: statsOf(),
			want:  domain.JobStatusQueued,
		},
		{
			name: "planned but unclaimed",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusPending, Count: 3},
			),
			want: domain.JobStatusQueued,
		},
		{
			name: "one task claimed",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusClaimed, Count: 1},
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusPending, Count: 2},
			),
			want: domain.JobStatusProcessing,
		},
		{
			name: "all terminal no failures",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 1},
				store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusCompleted, Count: 1},
				store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusCompleted, Count: 1},
				store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusCompleted, Count: 1},
			),
			want: domain.JobStatusCompleted,
		},
		{
			name: "all terminal with failure",
			stats: statsOf(
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusCompleted, Count: 15},
				store.TaskStatusCount{Type: domain.TaskTypeText, Status: domain.TaskStatusFailed, Count: 1},
				store.TaskStatusCount{Type: domain.TaskTypePDF, Status: domain.TaskStatusCompleted, Count: 15},
				store.TaskStatusCount{Type: domain.TaskTypeAudio, Status: domain.TaskStatusCompleted, Count: 15},
				store.TaskStatusCount{Type: domain.TaskTypeSong, Status: domain.TaskStatusCompleted, Count: 15},
			),
			want: domain.JobStatusError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveStatus(tt.stats))
		})
	}
}

func TestBuildResults_FlagsFailures(t *testing.T) {
	t.Parallel()

	job := testJob(t, domain.JobTypeCompatibility, 2, []domain.System{domain.SystemWestern})
	leaves, err := PlanLeafTasks(job, DefaultSettings())
	require.NoError(t, err)
	require.Len(t, leaves, 3)

	artifacts := make(map[uuid.UUID]*domain.Artifact)
	completeLeaf(t, leaves[0], artifacts)
	completeLeaf(t, leaves[1], artifacts)
	leaves[2].Status = domain.TaskStatusFailed
	leaves[2].ErrorMessage = "song provider rejected the prompt"

	results, partial, err := BuildResults(leaves, artifacts)
	require.NoError(t, err)
	assert.True(t, partial)
	require.Len(t, results, 3)

	assert.False(t, results[0].Failed)
	assert.Equal(t, artifacts[leaves[0].ID].ID, results[0].ArtifactID)
	assert.NotEmpty(t, results[0].StorageKey)

	assert.True(t, results[2].Failed)
	assert.Equal(t, domain.RoleOverlay, results[2].Role)
	assert.Equal(t, "song provider rejected the prompt", results[2].Error)
	assert.Empty(t, results[2].StorageKey)
}

func TestBuildResults_NonterminalTasksExcluded(t *testing.T) {
	t.Parallel()

	job := testJob(t, domain.JobTypeSingleSystem, 1, []domain.System{domain.SystemChinese})
	leaves, err := PlanLeafTasks(job, DefaultSettings())
	require.NoError(t, err)

	results, partial, err := BuildResults(leaves, map[uuid.UUID]*domain.Artifact{})
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Empty(t, results)
}
