package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrGated      = errors.New("gating violation")
	ErrConflict   = errors.New("conflict")
)

// NotFoundError reports a missing project, stage, task or data key.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// GatingViolationError is returned when a task is changed before every
// lower-order task in its stage has been approved.
type GatingViolationError struct {
	StageID  string
	TaskID   string
	Order    int
	Blocking []Task
}

func (e *GatingViolationError) Error() string {
	ids := make([]string, 0, len(e.Blocking))
	for _, t := range e.Blocking {
		ids = append(ids, t.ID)
	}
	msg := fmt.Sprintf("task %s (order %d) in stage %s is locked until previous tasks are approved", e.TaskID, e.Order, e.StageID)
	if len(ids) > 0 {
		msg += ": waiting on " + strings.Join(ids, ", ")
	}
	return msg
}

func (e *GatingViolationError) Is(target error) bool { return target == ErrGated }

type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
