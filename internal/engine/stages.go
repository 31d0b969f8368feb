package engine

import (
	"context"
	"log/slog"

	"voicetrack/internal/cache"
	"voicetrack/internal/domain"
	"voicetrack/internal/events"
	"voicetrack/internal/tracker"
)

// LoadStages returns the project's stages in order with tasks in order and
// status/progress derived. It does not write anything.
func (e Engine) LoadStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	if stages, ok := e.Stages.Get(projectID); ok {
		return stages, nil
	}
	epoch := e.Stages.Epoch(projectID)
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	stages, err := e.Repo.ListStages(ctx, e.DB, projectID)
	if err != nil {
		return nil, err
	}
	if stages == nil {
		stages = []domain.Stage{}
	}
	tracker.Derive(stages)
	e.Stages.PutAt(projectID, epoch, stages)
	return cache.Clone(stages), nil
}

// ProjectSummary reports per-stage progress and the overall percentage.
func (e Engine) ProjectSummary(ctx context.Context, projectID string) (domain.Summary, error) {
	stages, err := e.LoadStages(ctx, projectID)
	if err != nil {
		return domain.Summary{}, err
	}
	return tracker.Summarize(projectID, stages), nil
}

// Gate is the outcome of evaluating the sequential gate for one task.
type Gate struct {
	Task     domain.Task   `json:"task"`
	Allowed  bool          `json:"allowed"`
	Blocking []domain.Task `json:"blocking"`
}

// CanInteract evaluates the gate for a task against current storage.
func (e Engine) CanInteract(ctx context.Context, projectID, stageID, taskID string) (Gate, error) {
	stages, err := e.LoadStages(ctx, projectID)
	if err != nil {
		return Gate{}, err
	}
	stage, ok := tracker.FindStage(stages, stageID)
	if !ok {
		return Gate{}, &domain.NotFoundError{Kind: "stage", ID: stageID}
	}
	task, ok := findTask(stage, taskID)
	if !ok {
		return Gate{}, &domain.NotFoundError{Kind: "task", ID: taskID}
	}
	blocking := tracker.BlockingTasks(stage, task.Order)
	if blocking == nil {
		blocking = []domain.Task{}
	}
	return Gate{
		Task:     task,
		Allowed:  tracker.CanInteractWithTask(stages, stageID, task.Order),
		Blocking: blocking,
	}, nil
}

type TaskStatusOptions struct {
	ProjectID string
	StageID   string
	TaskID    string
	Status    string
	ActorID   string
	// Force bypasses the gate when the project config allows overrides.
	Force bool
}

// UpdateTaskStatus changes a task's status if every lower-order task in its
// stage is approved. The gate is evaluated inside a write transaction
// against the rows about to be changed, so concurrent updates in the same
// stage serialize on the database lock.
func (e Engine) UpdateTaskStatus(ctx context.Context, opts TaskStatusOptions) (domain.Task, error) {
	status, err := domain.ParseTaskStatus(opts.Status)
	if err != nil {
		return domain.Task{}, err
	}
	logger := e.log().With(
		slog.String("project_id", opts.ProjectID),
		slog.String("stage_id", opts.StageID),
		slog.String("task_id", opts.TaskID),
	)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectQ(ctx, tx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	stage, err := e.Repo.GetStage(ctx, tx, opts.ProjectID, opts.StageID)
	if err != nil {
		return domain.Task{}, err
	}
	task, ok := findTask(stage, opts.TaskID)
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Kind: "task", ID: opts.TaskID}
	}
	if task.Status == status {
		return task, nil
	}

	forced := false
	if !tracker.CanInteractWithTask([]domain.Stage{stage}, stage.ID, task.Order) {
		blocking := tracker.BlockingTasks(stage, task.Order)
		gateErr := &domain.GatingViolationError{StageID: stage.ID, TaskID: task.ID, Order: task.Order, Blocking: blocking}
		if !opts.Force {
			logger.Warn("task gated", slog.Int("order", task.Order), slog.Int("blocking", len(blocking)))
			return domain.Task{}, gateErr
		}
		cfg, err := e.Repo.GetProjectConfigQ(ctx, tx, opts.ProjectID)
		if err != nil {
			return domain.Task{}, err
		}
		if !cfg.Gating.AllowOverride {
			logger.Warn("gate override refused", slog.String("actor_id", opts.ActorID))
			return domain.Task{}, gateErr
		}
		ids := make([]string, 0, len(blocking))
		for _, b := range blocking {
			ids = append(ids, b.ID)
		}
		if err := e.appendEvent(ctx, tx, events.Entry{
			Type:       events.GatingOverride,
			ProjectID:  opts.ProjectID,
			EntityKind: events.KindTask,
			EntityID:   task.ID,
			ActorID:    opts.ActorID,
			Payload:    events.EventPayload{"stage_id": stage.ID, "order": task.Order, "blocking": ids},
		}); err != nil {
			return domain.Task{}, err
		}
		forced = true
	}

	now := e.timestamp()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, opts.ProjectID, stage.ID, task.ID, status, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.TouchStage(ctx, tx, opts.ProjectID, stage.ID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.TaskStatusUpdated,
		ProjectID:  opts.ProjectID,
		EntityKind: events.KindTask,
		EntityID:   task.ID,
		ActorID:    opts.ActorID,
		Payload: events.EventPayload{
			"stage_id": stage.ID,
			"order":    task.Order,
			"from":     string(task.Status),
			"to":       string(status),
			"forced":   forced,
		},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.Stages.Invalidate(opts.ProjectID)
	logger.Info("task status updated", slog.String("from", string(task.Status)), slog.String("to", string(status)), slog.Bool("forced", forced))

	task.Status = status
	task.UpdatedAt = now
	return task, nil
}

func findTask(stage domain.Stage, taskID string) (domain.Task, bool) {
	for _, t := range stage.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return domain.Task{}, false
}
