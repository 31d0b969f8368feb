package server

import (
	"encoding/json"

	"voicetrack/internal/domain"
	"voicetrack/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty" maxLength:"64"`
	Name string `json:"name" minLength:"1" maxLength:"200"`
	// ConfigYAML overrides the default workflow template.
	ConfigYAML string `json:"config_yaml,omitempty"`
}

type UpdateProjectRequest struct {
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty" enum:"active,completed,archived"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" doc:"approved, not_approved, needs_revision or in_progress (disapproved, rejected, pending and revision are accepted aliases)"`
	Force  bool   `json:"force,omitempty" doc:"Bypass the sequential gate; only honoured when the project config sets gating.allow_override"`
}

type SetDataRequest struct {
	Value any `json:"value"`
}

// Response payloads

type ProjectResponse = domain.Project

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type StagesResponse struct {
	ProjectID string         `json:"project_id"`
	Stages    []domain.Stage `json:"stages"`
}

type GateResponse = engine.Gate

type DataResponse struct {
	ProjectID string `json:"project_id"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type dataList struct {
	Items []DataResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func dataResponse(d domain.ProjectData) DataResponse {
	var v any
	_ = json.Unmarshal([]byte(d.Value), &v)
	return DataResponse{
		ProjectID: d.ProjectID,
		Key:       d.Key,
		Value:     v,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
