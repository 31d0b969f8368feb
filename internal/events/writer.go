package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProjectCreated    = "project.created"
	ProjectUpdated    = "project.updated"
	ProjectDeleted    = "project.deleted"
	TaskStatusUpdated = "task.status.updated"
	GatingOverride    = "gating.override"
	DataSet           = "project.data.set"
	DataDeleted       = "project.data.deleted"
)

// Entity kinds recorded on events.
const (
	KindProject = "project"
	KindTask    = "task"
	KindData    = "project_data"
)

// Writer appends to the events table inside the caller's transaction so an
// event exists iff its mutation committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "system"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), actor, string(data))
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
