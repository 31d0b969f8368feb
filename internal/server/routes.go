package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"voicetrack/internal/config"
	"voicetrack/internal/domain"
	"voicetrack/internal/engine"
	"voicetrack/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type taskPath struct {
	ProjectID string `path:"project_id"`
	StageID   string `path:"stage_id"`
	TaskID    string `path:"task_id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		Description:   "Creates a project and seeds its stages and tasks from the workflow template.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		var cfg *config.Config
		if strings.TrimSpace(input.Body.ConfigYAML) != "" {
			parsed, err := config.FromYAML([]byte(input.Body.ConfigYAML))
			if err != nil {
				return nil, handleError(&domain.ValidationError{Field: "config_yaml", Reason: err.Error()})
			}
			cfg = parsed
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Config:  cfg,
			ActorID: actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,completed,archived"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Status:          domain.ProjectStatus(input.Status),
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: nonNilSlice(items)}
		if len(items) > limit {
			last := items[limit-1]
			resp.Items = items[:limit]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Rename a project or change its status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		opts := engine.ProjectUpdateOptions{ID: input.ProjectID, Name: input.Body.Name, ActorID: actorFromContext(ctx)}
		if input.Body.Status != nil {
			opts.Status = *input.Body.Status
		}
		p, err := e.UpdateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Workflow config the project was seeded from",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		cfg, err := e.ProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "Stages with tasks, status and progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body StagesResponse `json:"body"`
	}, error) {
		stages, err := e.LoadStages(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StagesResponse `json:"body"`
		}{Body: StagesResponse{ProjectID: input.ProjectID, Stages: nonNilSlice(stages)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/summary",
		Summary:     "Overall and per-stage progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Summary `json:"body"`
	}, error) {
		sum, err := e.ProjectSummary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Summary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-gate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages/{stage_id}/tasks/{task_id}/gate",
		Summary:     "Whether a task can change status now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		gate, err := e.CanInteract(ctx, input.ProjectID, input.StageID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gate}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/{stage_id}/tasks/{task_id}/status",
		Summary:     "Change a task's approval status",
		Description: "Fails with 409 gating_violation while any lower-order task in the stage is not approved.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		StageID   string                  `path:"stage_id"`
		TaskID    string                  `path:"task_id"`
		Body      UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.UpdateTaskStatus(ctx, engine.TaskStatusOptions{
			ProjectID: input.ProjectID,
			StageID:   input.StageID,
			TaskID:    input.TaskID,
			Status:    input.Body.Status,
			Force:     input.Body.Force,
			ActorID:   actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})
}

func registerData(api huma.API, e engine.Engine) {
	type dataPath struct {
		ProjectID string `path:"project_id"`
		Key       string `path:"key"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-project-data",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/data",
		Summary:     "List project data",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Prefix    string `query:"prefix"`
	}) (*struct {
		Body dataList `json:"body"`
	}, error) {
		items, err := e.ListProjectData(ctx, input.ProjectID, input.Prefix)
		if err != nil {
			return nil, handleError(err)
		}
		resp := dataList{Items: make([]DataResponse, 0, len(items))}
		for _, d := range items {
			resp.Items = append(resp.Items, dataResponse(d))
		}
		return &struct {
			Body dataList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-data",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/data/{key}",
		Summary:     "Get a project data value",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *dataPath) (*struct {
		Body DataResponse `json:"body"`
	}, error) {
		d, err := e.GetProjectData(ctx, input.ProjectID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DataResponse `json:"body"`
		}{Body: dataResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-project-data",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/data/{key}",
		Summary:     "Set a project data value",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Key       string         `path:"key"`
		Body      SetDataRequest `json:"body"`
	}) (*struct {
		Body DataResponse `json:"body"`
	}, error) {
		raw, err := json.Marshal(input.Body.Value)
		if err != nil {
			return nil, handleError(&domain.ValidationError{Field: "value", Reason: err.Error()})
		}
		d, err := e.SetProjectData(ctx, engine.DataSetOptions{
			ProjectID: input.ProjectID,
			Key:       input.Key,
			Value:     raw,
			ActorID:   actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DataResponse `json:"body"`
		}{Body: dataResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project-data",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/data/{key}",
		Summary:       "Delete a project data value",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *dataPath) (*struct{}, error) {
		if err := e.DeleteProjectData(ctx, input.ProjectID, input.Key, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Description: "Newest first. Events are kept after a project is deleted, so an unknown project id yields an empty page rather than 404.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,task,project_data"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
