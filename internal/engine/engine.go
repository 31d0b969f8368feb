package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"voicetrack/internal/cache"
	"voicetrack/internal/config"
	"voicetrack/internal/domain"
	"voicetrack/internal/events"
	"voicetrack/internal/logging"
	"voicetrack/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Stages *cache.StageCache
	Logger *slog.Logger
	Now    func() time.Time
}

type Options struct {
	Logger *slog.Logger
	// CacheSize bounds the stage cache; 0 disables it.
	CacheSize int
}

func New(db *sql.DB, opts Options) Engine {
	stages, _ := cache.NewStageCache(opts.CacheSize)
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Stages: stages,
		Logger: logging.OrNop(opts.Logger),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// appendEvent stamps events with the engine clock unless the writer has
// its own.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, entry events.Entry) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	_, err := w.Append(ctx, tx, entry)
	return err
}

func (e Engine) log() *slog.Logger {
	return logging.OrNop(e.Logger)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

const maxNameLen = 200

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID      string
	Name    string
	Config  *config.Config
	ActorID string
}

// CreateProject inserts the project and seeds its stages and tasks from the
// workflow config, all in one transaction.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return domain.Project{}, &domain.ValidationError{Field: "config", Reason: err.Error()}
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = strings.TrimSpace(cfg.Project.Name)
	}
	if err := validateName(name); err != nil {
		return domain.Project{}, err
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = ulid.Make().String()
	} else if !idPattern.MatchString(id) {
		return domain.Project{}, &domain.ValidationError{Field: "id", Reason: "must be 1-64 letters, digits, '.', '_' or '-'"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectQ(ctx, tx, id); err == nil {
		return domain.Project{}, &domain.ConflictError{Kind: "project", ID: id}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}

	now := e.timestamp()
	p := domain.Project{ID: id, Name: name, Status: domain.ProjectActive, CreatedAt: now, UpdatedAt: now}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	taskCount := 0
	for i, st := range cfg.Stages {
		stage := domain.Stage{
			ID:          st.ID,
			ProjectID:   id,
			Title:       st.Title,
			Description: st.Description,
			Order:       i + 1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertStage(ctx, tx, stage); err != nil {
			return domain.Project{}, fmt.Errorf("insert stage %s: %w", st.ID, err)
		}
		for j, tt := range st.Tasks {
			task := domain.Task{
				ID:          tt.ID,
				ProjectID:   id,
				StageID:     st.ID,
				Title:       tt.Title,
				Description: tt.Description,
				Order:       j + 1,
				Status:      domain.TaskInProgress,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if task.ID == "" {
				task.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d", id, st.ID, j+1))).String()
			}
			if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
				return domain.Project{}, fmt.Errorf("insert task %s/%s: %w", st.ID, task.ID, err)
			}
			taskCount++
		}
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, id, cfg, now); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.ProjectCreated,
		ProjectID:  id,
		EntityKind: events.KindProject,
		EntityID:   id,
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"name": name, "stages": len(cfg.Stages), "tasks": taskCount},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.Stages.Invalidate(id)
	e.log().Info("project created", slog.String("project_id", id), slog.Int("stages", len(cfg.Stages)), slog.Int("tasks", taskCount))
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown project status \"" + string(f.Status) + "\""}
	}
	return e.Repo.ListProjects(ctx, f)
}

type ProjectUpdateOptions struct {
	ID      string
	Name    *string
	Status  string
	ActorID string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	payload := events.EventPayload{}
	var status domain.ProjectStatus
	if opts.Status != "" {
		s, err := domain.ParseProjectStatus(opts.Status)
		if err != nil {
			return domain.Project{}, err
		}
		status = s
		payload["status"] = string(s)
	}
	if opts.Name != nil {
		trimmed := strings.TrimSpace(*opts.Name)
		if err := validateName(trimmed); err != nil {
			return domain.Project{}, err
		}
		opts.Name = &trimmed
		payload["name"] = trimmed
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if len(payload) == 0 {
		return e.Repo.GetProjectQ(ctx, tx, opts.ID)
	}
	if err := e.Repo.UpdateProject(ctx, tx, opts.ID, opts.Name, status, e.timestamp()); err != nil {
		return domain.Project{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.ProjectUpdated,
		ProjectID:  opts.ID,
		EntityKind: events.KindProject,
		EntityID:   opts.ID,
		ActorID:    opts.ActorID,
		Payload:    payload,
	}); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectQ(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project updated", slog.String("project_id", opts.ID), slog.Any("changes", map[string]any(payload)))
	return p, nil
}

// DeleteProject removes the project and everything it owns. Its events are
// kept, followed by a project.deleted event.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProjectQ(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.ProjectDeleted,
		ProjectID:  id,
		EntityKind: events.KindProject,
		EntityID:   id,
		ActorID:    actorID,
		Payload:    events.EventPayload{"name": p.Name},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Stages.Invalidate(id)
	e.log().Info("project deleted", slog.String("project_id", id))
	return nil
}

// ProjectConfig returns the workflow config the project was created with.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.GetProjectConfig(ctx, projectID)
}

func validateName(name string) error {
	if name == "" {
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if len(name) > maxNameLen {
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", maxNameLen)}
	}
	return nil
}
