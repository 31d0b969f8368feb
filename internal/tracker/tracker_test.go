package tracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicetrack/internal/domain"
	"voicetrack/internal/tracker"
)

func tasks(statuses ...domain.TaskStatus) []domain.Task {
	out := make([]domain.Task, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, domain.Task{ID: string(rune('a' + i)), StageID: "stage1", Order: i + 1, Status: s})
	}
	return out
}

func stage(statuses ...domain.TaskStatus) []domain.Stage {
	return []domain.Stage{{ID: "stage1", Order: 1, Tasks: tasks(statuses...)}}
}

func TestCalculateStageProgress(t *testing.T) {
	cases := []struct {
		name  string
		tasks []domain.Task
		want  int
	}{
		{"empty", nil, 0},
		{"none approved", tasks(domain.TaskInProgress, domain.TaskInProgress), 0},
		{"one of three", tasks(domain.TaskApproved, domain.TaskInProgress, domain.TaskInProgress), 33},
		{"two of three", tasks(domain.TaskApproved, domain.TaskApproved, domain.TaskNotApproved), 67},
		{"half", tasks(domain.TaskApproved, domain.TaskNeedsRevision), 50},
		{"all", tasks(domain.TaskApproved, domain.TaskApproved), 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tracker.CalculateStageProgress(tc.tasks))
		})
	}
}

func TestCalculateStageStatus(t *testing.T) {
	cases := []struct {
		name  string
		tasks []domain.Task
		want  domain.StageStatus
	}{
		{"empty", nil, domain.StagePending},
		{"fresh", tasks(domain.TaskInProgress, domain.TaskInProgress), domain.StageInProgress},
		{"all approved", tasks(domain.TaskApproved, domain.TaskApproved), domain.StageCompleted},
		{"partially approved", tasks(domain.TaskApproved, domain.TaskInProgress), domain.StageInProgress},
		{"revision", tasks(domain.TaskApproved, domain.TaskNeedsRevision), domain.StagePending},
		{"all revision", tasks(domain.TaskNeedsRevision, domain.TaskNeedsRevision), domain.StagePending},
		{"revision beside in progress", tasks(domain.TaskNeedsRevision, domain.TaskInProgress), domain.StageInProgress},
		{"one rejected wins", tasks(domain.TaskApproved, domain.TaskNotApproved, domain.TaskNeedsRevision), domain.StageDisapproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tracker.CalculateStageStatus(tc.tasks))
		})
	}
}

func TestCanInteractWithTask(t *testing.T) {
	t.Run("first task always open", func(t *testing.T) {
		for _, s := range domain.TaskStatuses() {
			assert.True(t, tracker.CanInteractWithTask(stage(s, s, s), "stage1", 1))
		}
	})
	t.Run("unapproved first gates the rest", func(t *testing.T) {
		stages := stage(domain.TaskInProgress, domain.TaskInProgress, domain.TaskInProgress)
		assert.False(t, tracker.CanInteractWithTask(stages, "stage1", 2))
		assert.False(t, tracker.CanInteractWithTask(stages, "stage1", 3))
	})
	t.Run("gate follows the first unapproved task", func(t *testing.T) {
		stages := stage(domain.TaskApproved, domain.TaskNotApproved, domain.TaskInProgress)
		assert.True(t, tracker.CanInteractWithTask(stages, "stage1", 2))
		assert.False(t, tracker.CanInteractWithTask(stages, "stage1", 3))
	})
	t.Run("missing stage", func(t *testing.T) {
		assert.False(t, tracker.CanInteractWithTask(stage(domain.TaskApproved), "stage9", 1))
	})
}

func TestBlockingTasks(t *testing.T) {
	stages := stage(domain.TaskNeedsRevision, domain.TaskApproved, domain.TaskNotApproved, domain.TaskInProgress)
	blocking := tracker.BlockingTasks(stages[0], 4)
	require.Len(t, blocking, 2)
	assert.Equal(t, 1, blocking[0].Order)
	assert.Equal(t, 3, blocking[1].Order)
	assert.Empty(t, tracker.BlockingTasks(stages[0], 1))
}

func TestSummarize(t *testing.T) {
	stages := []domain.Stage{
		{ID: "stage1", Order: 1, Tasks: tasks(domain.TaskApproved, domain.TaskApproved)},
		{ID: "stage2", Order: 2, Tasks: tasks(domain.TaskApproved, domain.TaskInProgress)},
		{ID: "stage3", Order: 3},
	}
	sum := tracker.Summarize("p1", stages)
	assert.Equal(t, 4, sum.TotalTasks)
	assert.Equal(t, 3, sum.ApprovedTasks)
	assert.Equal(t, 75, sum.OverallProgress)
	assert.Equal(t, "stage2", sum.CurrentStageID)
	require.Len(t, sum.Stages, 3)
	assert.Equal(t, domain.StageCompleted, stages[0].Status)
	assert.Equal(t, 100, stages[0].Progress)
	assert.Equal(t, domain.StagePending, sum.Stages[2].Status)
	assert.Equal(t, map[domain.TaskStatus]int{
		domain.TaskApproved:      3,
		domain.TaskInProgress:    1,
		domain.TaskNotApproved:   0,
		domain.TaskNeedsRevision: 0,
	}, sum.StatusCounts)
}
