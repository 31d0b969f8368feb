package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"voicetrack/internal/config"
	"voicetrack/internal/db"
	"voicetrack/internal/domain"
	"voicetrack/internal/engine"
	"voicetrack/internal/events"
	"voicetrack/internal/migrate"
	"voicetrack/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, nil)
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, engine.Options{CacheSize: 16})
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Launch spot", Config: cfg, ActorID: "tester"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) setStatus(t *testing.T, stageID, taskID, status string) (domain.Task, error) {
	t.Helper()
	return env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{
		ProjectID: "proj-1",
		StageID:   stageID,
		TaskID:    taskID,
		Status:    status,
		ActorID:   "tester",
	})
}

func stageByID(t *testing.T, stages []domain.Stage, id string) domain.Stage {
	t.Helper()
	for _, s := range stages {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("stage %s missing", id)
	return domain.Stage{}
}

func TestCreateProjectSeedsStages(t *testing.T) {
	env := newTestEnv(t)
	stages, err := env.Engine.LoadStages(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("load stages: %v", err)
	}
	if len(stages) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(stages))
	}
	for i, s := range stages {
		if s.Order != i+1 {
			t.Fatalf("stage %s order %d, want %d", s.ID, s.Order, i+1)
		}
		if s.Status != domain.StageInProgress || s.Progress != 0 {
			t.Fatalf("fresh stage %s derived %s/%d", s.ID, s.Status, s.Progress)
		}
		for j, task := range s.Tasks {
			if task.Order != j+1 || task.Status != domain.TaskInProgress {
				t.Fatalf("task %s/%s order=%d status=%s", s.ID, task.ID, task.Order, task.Status)
			}
		}
	}
	if got := len(stages[0].Tasks); got != 3 {
		t.Fatalf("stage1 expected 3 tasks, got %d", got)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1", Type: events.ProjectCreated})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected project.created event, got %d err=%v", len(evts), err)
	}
}

func TestCreateProjectGeneratesIDAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(p.ID) != 26 {
		t.Fatalf("expected ulid id, got %q", p.ID)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Dup"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "  "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
}

func TestLoadStagesUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.LoadStages(env.Ctx, "nope")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "project" {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestSequentialGating(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.setStatus(t, "stage1", "task2", "approved")
	var gated *domain.GatingViolationError
	if !errors.As(err, &gated) {
		t.Fatalf("expected gating violation, got %v", err)
	}
	if len(gated.Blocking) != 1 || gated.Blocking[0].ID != "task1" {
		t.Fatalf("unexpected blocking set %+v", gated.Blocking)
	}
	if _, err := env.setStatus(t, "stage1", "task3", "approved"); !errors.Is(err, domain.ErrGated) {
		t.Fatalf("task3 should be gated, got %v", err)
	}

	if _, err := env.setStatus(t, "stage1", "task1", "approved"); err != nil {
		t.Fatalf("approve first task: %v", err)
	}
	stages, err := env.Engine.LoadStages(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s1 := stageByID(t, stages, "stage1")
	if s1.Progress != 33 || s1.Status != domain.StageInProgress {
		t.Fatalf("after upload approved: progress=%d status=%s", s1.Progress, s1.Status)
	}

	if _, err := env.setStatus(t, "stage1", "task2", "not_approved"); err != nil {
		t.Fatalf("reject brief: %v", err)
	}
	stages, _ = env.Engine.LoadStages(env.Ctx, "proj-1")
	s1 = stageByID(t, stages, "stage1")
	if s1.Status != domain.StageDisapproved {
		t.Fatalf("expected disapproved stage, got %s", s1.Status)
	}
	if _, err := env.setStatus(t, "stage1", "task3", "approved"); !errors.Is(err, domain.ErrGated) {
		t.Fatalf("voices should be gated behind rejected brief, got %v", err)
	}
	gate, err := env.Engine.CanInteract(env.Ctx, "proj-1", "stage1", "task2")
	if err != nil || !gate.Allowed {
		t.Fatalf("brief should remain open: %+v %v", gate, err)
	}
}

func TestGatingIsPerStage(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.setStatus(t, "stage2", "task1", "approved"); err != nil {
		t.Fatalf("first task of another stage is open: %v", err)
	}
	if _, err := env.setStatus(t, "stage2", "task2", "needs_revision"); err != nil {
		t.Fatalf("second task after approved first: %v", err)
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.setStatus(t, "stage1", "task1", "approved")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	second, err := env.setStatus(t, "stage1", "task1", "approved")
	if err != nil {
		t.Fatalf("approve again: %v", err)
	}
	if second.UpdatedAt != first.UpdatedAt {
		t.Fatalf("no-op bumped updated_at: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1", Type: events.TaskStatusUpdated})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected exactly one status event, got %d err=%v", len(evts), err)
	}
}

func TestUpdateTaskStatusErrors(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name    string
		stage   string
		task    string
		status  string
		project string
		want    error
	}{
		{"bad status", "stage1", "task1", "done", "proj-1", domain.ErrValidation},
		{"unknown project", "stage1", "task1", "approved", "ghost", domain.ErrNotFound},
		{"unknown stage", "stage9", "task1", "approved", "proj-1", domain.ErrNotFound},
		{"unknown task", "stage1", "task9", "approved", "proj-1", domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{
				ProjectID: tc.project, StageID: tc.stage, TaskID: tc.task, Status: tc.status,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	stages, _ := env.Engine.LoadStages(env.Ctx, "proj-1")
	if stageByID(t, stages, "stage1").Tasks[0].Status != domain.TaskInProgress {
		t.Fatalf("failed updates must not change state")
	}
}

func TestLegacyStatusIsStoredCanonical(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.setStatus(t, "stage1", "task1", "rejected")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != domain.TaskNotApproved {
		t.Fatalf("expected not_approved, got %s", task.Status)
	}
}

func TestForceRequiresOverrideConfig(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{
		ProjectID: "proj-1", StageID: "stage1", TaskID: "task3", Status: "approved", Force: true,
	})
	if !errors.Is(err, domain.ErrGated) {
		t.Fatalf("force without override should stay gated, got %v", err)
	}

	cfg := config.Default()
	cfg.Gating.AllowOverride = true
	env = newTestEnvWithConfig(t, cfg)
	task, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{
		ProjectID: "proj-1", StageID: "stage1", TaskID: "task3", Status: "approved", Force: true, ActorID: "admin",
	})
	if err != nil {
		t.Fatalf("forced update: %v", err)
	}
	if task.Status != domain.TaskApproved {
		t.Fatalf("expected approved, got %s", task.Status)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1", Type: events.GatingOverride})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected override event, got %d err=%v", len(evts), err)
	}
	var payload map[string]any
	_ = json.Unmarshal([]byte(evts[0].Payload), &payload)
	if blocking, _ := payload["blocking"].([]any); len(blocking) != 2 {
		t.Fatalf("override should record both blockers, got %v", payload)
	}
}

func TestConcurrentAdjacentUpdatesSerialize(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = env.setStatus(t, "stage1", "task1", "approved")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = env.setStatus(t, "stage1", "task2", "approved")
	}()
	wg.Wait()
	if errs[0] != nil {
		t.Fatalf("first task update failed: %v", errs[0])
	}
	stages, err := env.Engine.LoadStages(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s1 := stageByID(t, stages, "stage1")
	if errs[1] == nil && s1.Tasks[0].Status != domain.TaskApproved {
		t.Fatalf("task2 approved while task1 was not")
	}
	if errs[1] != nil && !errors.Is(errs[1], domain.ErrGated) {
		t.Fatalf("unexpected error for task2: %v", errs[1])
	}
}

func TestCacheSeesCommittedUpdates(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.LoadStages(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := env.setStatus(t, "stage4", "task1", "approved"); err != nil {
		t.Fatalf("update: %v", err)
	}
	stages, _ := env.Engine.LoadStages(env.Ctx, "proj-1")
	s4 := stageByID(t, stages, "stage4")
	if s4.Status != domain.StageCompleted || s4.Progress != 100 {
		t.Fatalf("stale cache: %s/%d", s4.Status, s4.Progress)
	}
	stages[3].Tasks[0].Status = domain.TaskNotApproved
	again, _ := env.Engine.LoadStages(env.Ctx, "proj-1")
	if stageByID(t, again, "stage4").Tasks[0].Status != domain.TaskApproved {
		t.Fatalf("callers must not be able to mutate cached stages")
	}
}

func TestProjectSummary(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"task1", "task2", "task3"} {
		if _, err := env.setStatus(t, "stage1", id, "approved"); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	sum, err := env.Engine.ProjectSummary(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalTasks != 8 || sum.ApprovedTasks != 3 || sum.OverallProgress != 38 {
		t.Fatalf("unexpected totals %+v", sum)
	}
	if sum.CurrentStageID != "stage2" {
		t.Fatalf("current stage = %s", sum.CurrentStageID)
	}
	if sum.StatusCounts[domain.TaskApproved] != 3 || sum.StatusCounts[domain.TaskInProgress] != 5 || sum.StatusCounts[domain.TaskNotApproved] != 0 {
		t.Fatalf("unexpected status counts %v", sum.StatusCounts)
	}
}

func TestUpdateAndDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	name := "Renamed"
	p, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "proj-1", Name: &name, Status: "completed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Name != "Renamed" || p.Status != domain.ProjectCompleted {
		t.Fatalf("unexpected project %+v", p)
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "proj-1", Status: "paused"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, "proj-1", "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.LoadStages(env.Ctx, "proj-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=?`, "proj-1").Scan(&n); err != nil || n != 0 {
		t.Fatalf("tasks should cascade, got %d err=%v", n, err)
	}
}

func TestProjectData(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.SetProjectData(env.Ctx, engine.DataSetOptions{ProjectID: "proj-1", Key: "brief", Value: json.RawMessage(`{ "tone": "warm" }`)})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if d.Value != `{"tone":"warm"}` {
		t.Fatalf("value not compacted: %s", d.Value)
	}
	if _, err := env.Engine.SetProjectData(env.Ctx, engine.DataSetOptions{ProjectID: "proj-1", Key: "brief", Value: json.RawMessage(`[1,2]`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := env.Engine.GetProjectData(env.Ctx, "proj-1", "brief")
	if err != nil || got.Value != `[1,2]` {
		t.Fatalf("get after upsert: %+v %v", got, err)
	}
	if _, err := env.Engine.SetProjectData(env.Ctx, engine.DataSetOptions{ProjectID: "proj-1", Key: "x", Value: json.RawMessage(`{bad`)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.SetProjectData(env.Ctx, engine.DataSetOptions{ProjectID: "proj-1", Key: "a b", Value: json.RawMessage(`1`)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected key validation error, got %v", err)
	}
	items, err := env.Engine.ListProjectData(env.Ctx, "proj-1", "")
	if err != nil || len(items) != 1 {
		t.Fatalf("list: %d %v", len(items), err)
	}
	if err := env.Engine.DeleteProjectData(env.Ctx, "proj-1", "brief", "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.DeleteProjectData(env.Ctx, "proj-1", "brief", "tester"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}
