package domain

import "strings"

type TaskStatus string

const (
	TaskApproved      TaskStatus = "approved"
	TaskNotApproved   TaskStatus = "not_approved"
	TaskNeedsRevision TaskStatus = "needs_revision"
	TaskInProgress    TaskStatus = "in_progress"
)

// legacyTaskStatuses maps older vocabulary accepted on input to the
// canonical value that gets stored.
var legacyTaskStatuses = map[string]TaskStatus{
	"disapproved": TaskNotApproved,
	"rejected":    TaskNotApproved,
	"pending":     TaskInProgress,
	"revision":    TaskNeedsRevision,
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskApproved, TaskNotApproved, TaskNeedsRevision, TaskInProgress:
		return true
	}
	return false
}

func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus normalizes raw input to a canonical task status.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := TaskStatus(v); s.IsValid() {
		return s, nil
	}
	if s, ok := legacyTaskStatuses[v]; ok {
		return s, nil
	}
	if v == "" {
		return "", &ValidationError{Field: "status", Reason: "is required"}
	}
	return "", &ValidationError{Field: "status", Reason: "unknown task status " + quote(raw)}
}

// TaskStatuses lists canonical values in display order.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{TaskInProgress, TaskNeedsRevision, TaskNotApproved, TaskApproved}
}

type StageStatus string

const (
	StagePending     StageStatus = "pending"
	StageInProgress  StageStatus = "in_progress"
	StageCompleted   StageStatus = "completed"
	StageDisapproved StageStatus = "disapproved"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

func ParseProjectStatus(raw string) (ProjectStatus, error) {
	s := ProjectStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", &ValidationError{Field: "status", Reason: "unknown project status " + quote(raw)}
	}
	return s, nil
}

func quote(s string) string { return "\"" + s + "\"" }
