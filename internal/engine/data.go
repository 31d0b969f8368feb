package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"voicetrack/internal/domain"
	"voicetrack/internal/events"
)

const maxDataKeyLen = 128

type DataSetOptions struct {
	ProjectID string
	Key       string
	Value     json.RawMessage
	ActorID   string
}

// SetProjectData upserts a JSON value under key.
func (e Engine) SetProjectData(ctx context.Context, opts DataSetOptions) (domain.ProjectData, error) {
	if err := validateDataKey(opts.Key); err != nil {
		return domain.ProjectData{}, err
	}
	if len(bytes.TrimSpace(opts.Value)) == 0 || !json.Valid(opts.Value) {
		return domain.ProjectData{}, &domain.ValidationError{Field: "value", Reason: "must be valid JSON"}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, opts.Value); err != nil {
		return domain.ProjectData{}, &domain.ValidationError{Field: "value", Reason: err.Error()}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectData{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectQ(ctx, tx, opts.ProjectID); err != nil {
		return domain.ProjectData{}, err
	}
	now := e.timestamp()
	if err := e.Repo.UpsertData(ctx, tx, domain.ProjectData{
		ProjectID: opts.ProjectID,
		Key:       opts.Key,
		Value:     compact.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return domain.ProjectData{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.DataSet,
		ProjectID:  opts.ProjectID,
		EntityKind: events.KindData,
		EntityID:   opts.Key,
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"key": opts.Key, "bytes": compact.Len()},
	}); err != nil {
		return domain.ProjectData{}, err
	}
	d, err := e.Repo.GetData(ctx, tx, opts.ProjectID, opts.Key)
	if err != nil {
		return domain.ProjectData{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectData{}, err
	}
	e.log().Debug("project data set", slog.String("project_id", opts.ProjectID), slog.String("key", opts.Key))
	return d, nil
}

func (e Engine) GetProjectData(ctx context.Context, projectID, key string) (domain.ProjectData, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ProjectData{}, err
	}
	return e.Repo.GetData(ctx, e.DB, projectID, key)
}

func (e Engine) ListProjectData(ctx context.Context, projectID, prefix string) ([]domain.ProjectData, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListData(ctx, projectID, prefix)
}

func (e Engine) DeleteProjectData(ctx context.Context, projectID, key, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectQ(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Repo.DeleteData(ctx, tx, projectID, key); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type:       events.DataDeleted,
		ProjectID:  projectID,
		EntityKind: events.KindData,
		EntityID:   key,
		ActorID:    actorID,
		Payload:    events.EventPayload{"key": key},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func validateDataKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &domain.ValidationError{Field: "key", Reason: "is required"}
	}
	if len(key) > maxDataKeyLen {
		return &domain.ValidationError{Field: "key", Reason: "is too long"}
	}
	for _, r := range key {
		if unicode.IsSpace(r) || r == '/' {
			return &domain.ValidationError{Field: "key", Reason: "must not contain whitespace or '/'"}
		}
	}
	return nil
}
