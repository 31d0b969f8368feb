package domain

type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status" enum:"active,completed,archived"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
}

// Stage is a step of a project's workflow. Status and Progress are derived
// from Tasks on every load and are never persisted.
type Stage struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Order       int         `json:"order"`
	Status      StageStatus `json:"status" enum:"pending,in_progress,completed,disapproved"`
	Progress    int         `json:"progress" minimum:"0" maximum:"100"`
	Tasks       []Task      `json:"tasks"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
	UpdatedAt   string      `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	StageID     string     `json:"stage_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Order       int        `json:"order" minimum:"1"`
	Status      TaskStatus `json:"status" enum:"approved,not_approved,needs_revision,in_progress"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// ProjectData is a free-form JSON value stored under a key for a project.
type ProjectData struct {
	ProjectID string `json:"project_id"`
	Key       string `json:"key"`
	Value     string `json:"value_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Summary aggregates derived stage state for a project. StatusCounts has
// an entry for every canonical task status.
type Summary struct {
	ProjectID       string             `json:"project_id"`
	TotalTasks      int                `json:"total_tasks"`
	ApprovedTasks   int                `json:"approved_tasks"`
	OverallProgress int                `json:"overall_progress"`
	CurrentStageID  string             `json:"current_stage_id,omitempty"`
	StatusCounts    map[TaskStatus]int `json:"status_counts"`
	Stages          []StageSummary     `json:"stages"`
}

type StageSummary struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Order    int         `json:"order"`
	Status   StageStatus `json:"status"`
	Progress int         `json:"progress"`
	Approved int         `json:"approved"`
	Total    int         `json:"total"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
