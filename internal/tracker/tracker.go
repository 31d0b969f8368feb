// Package tracker holds the pure rules for stage progress and sequential
// task gating. Nothing here touches storage.
package tracker

import (
	"math"
	"sort"

	"voicetrack/internal/domain"
)

// FindStage returns the stage with the given id.
func FindStage(stages []domain.Stage, stageID string) (domain.Stage, bool) {
	for _, s := range stages {
		if s.ID == stageID {
			return s, true
		}
	}
	return domain.Stage{}, false
}

// CanInteractWithTask reports whether the task at taskOrder may change
// status. A missing stage is never interactable.
func CanInteractWithTask(stages []domain.Stage, stageID string, taskOrder int) bool {
	stage, ok := FindStage(stages, stageID)
	if !ok {
		return false
	}
	return len(BlockingTasks(stage, taskOrder)) == 0
}

// BlockingTasks lists lower-order tasks that are not yet approved, ordered
// by order.
func BlockingTasks(stage domain.Stage, taskOrder int) []domain.Task {
	var blocking []domain.Task
	for _, t := range stage.Tasks {
		if t.Order < taskOrder && t.Status != domain.TaskApproved {
			blocking = append(blocking, t)
		}
	}
	sort.Slice(blocking, func(i, j int) bool { return blocking[i].Order < blocking[j].Order })
	return blocking
}

// CalculateStageProgress is the rounded percentage of approved tasks.
func CalculateStageProgress(tasks []domain.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	return percent(countApproved(tasks), len(tasks))
}

// CalculateStageStatus derives the aggregate stage status, first match
// wins: any not_approved task, all approved, any in_progress, else pending.
func CalculateStageStatus(tasks []domain.Task) domain.StageStatus {
	if len(tasks) == 0 {
		return domain.StagePending
	}
	approved, inProgress := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskNotApproved:
			return domain.StageDisapproved
		case domain.TaskApproved:
			approved++
		case domain.TaskInProgress:
			inProgress++
		}
	}
	switch {
	case approved == len(tasks):
		return domain.StageCompleted
	case inProgress > 0:
		return domain.StageInProgress
	default:
		return domain.StagePending
	}
}

// Derive fills Status and Progress on every stage in place.
func Derive(stages []domain.Stage) {
	for i := range stages {
		stages[i].Status = CalculateStageStatus(stages[i].Tasks)
		stages[i].Progress = CalculateStageProgress(stages[i].Tasks)
	}
}

// Summarize derives stage fields and builds project-level totals. The
// current stage is the first one that is not completed.
func Summarize(projectID string, stages []domain.Stage) domain.Summary {
	Derive(stages)
	sum := domain.Summary{
		ProjectID:    projectID,
		StatusCounts: make(map[domain.TaskStatus]int, len(domain.TaskStatuses())),
		Stages:       make([]domain.StageSummary, 0, len(stages)),
	}
	for _, st := range domain.TaskStatuses() {
		sum.StatusCounts[st] = 0
	}
	for _, s := range stages {
		for _, t := range s.Tasks {
			sum.StatusCounts[t.Status]++
		}
		approved := countApproved(s.Tasks)
		sum.ApprovedTasks += approved
		sum.TotalTasks += len(s.Tasks)
		if sum.CurrentStageID == "" && s.Status != domain.StageCompleted {
			sum.CurrentStageID = s.ID
		}
		sum.Stages = append(sum.Stages, domain.StageSummary{
			ID:       s.ID,
			Title:    s.Title,
			Order:    s.Order,
			Status:   s.Status,
			Progress: s.Progress,
			Approved: approved,
			Total:    len(s.Tasks),
		})
	}
	if sum.TotalTasks > 0 {
		sum.OverallProgress = percent(sum.ApprovedTasks, sum.TotalTasks)
	}
	return sum
}

func countApproved(tasks []domain.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == domain.TaskApproved {
			n++
		}
	}
	return n
}

func percent(n, total int) int {
	return int(math.Round(float64(n) * 100 / float64(total)))
}
