// Package webhooks delivers events from the events table to the URLs
// configured per project.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"voicetrack/internal/config"
	"voicetrack/internal/domain"
	"voicetrack/internal/logging"
	"voicetrack/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

type Options struct {
	Interval  time.Duration
	Timeout   time.Duration
	BatchSize int
	Retry     RetryConfig
	Logger    *slog.Logger
	Client    *http.Client
}

// Dispatcher polls the event log and POSTs matching events. Cursors are
// stored per project and hook so delivery resumes after a restart.
type Dispatcher struct {
	repo     repo.Repo
	logger   *slog.Logger
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	batch    int
	retry    RetryConfig
	breakers *breakerRegistry
	now      func() time.Time
}

func New(r repo.Repo, opts Options) *Dispatcher {
	logger := logging.OrNop(opts.Logger).With(slog.String("component", "webhooks"))
	d := &Dispatcher{
		repo:     r,
		logger:   logger,
		client:   opts.Client,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		batch:    opts.BatchSize,
		retry:    opts.Retry,
		breakers: newBreakerRegistry(logger),
		now:      time.Now,
	}
	if d.interval <= 0 {
		d.interval = defaultInterval
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.batch <= 0 {
		d.batch = defaultBatch
	}
	if d.retry == (RetryConfig{}) {
		d.retry = DefaultRetryConfig()
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	return d
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Info("webhook dispatcher started", slog.Duration("interval", d.interval))
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("webhook dispatch failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events for every enabled hook of every
// project.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	configs, err := d.repo.ProjectConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load project configs: %w", err)
	}
	projects := make([]string, 0, len(configs))
	for id := range configs {
		projects = append(projects, id)
	}
	sort.Strings(projects)
	for _, projectID := range projects {
		for i, hook := range configs[projectID].Webhooks {
			if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
				continue
			}
			if err := d.dispatchHook(ctx, projectID, hookKey(i, hook), hook); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Warn("webhook delivery stalled",
					slog.String("project_id", projectID),
					slog.String("url", hook.URL),
					slog.Any("error", err))
			}
		}
	}
	return nil
}

func hookKey(idx int, hook config.WebhookConfig) string {
	return fmt.Sprintf("%d|%s", idx, hook.URL)
}

func (d *Dispatcher) dispatchHook(ctx context.Context, projectID, key string, hook config.WebhookConfig) error {
	cursor, err := d.cursorFor(ctx, projectID, key)
	if err != nil {
		return err
	}
	evts, err := d.repo.EventsAfter(ctx, d.batch, cursor, projectID)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			err := deliverWithRetry(ctx, d.breakers.get(hook.URL), d.retry, func() error {
				return d.postEvent(ctx, projectID, hook, evt)
			})
			var perm *permanentError
			switch {
			case errors.As(err, &perm):
				d.logger.Error("webhook rejected event; skipping",
					slog.String("project_id", projectID),
					slog.String("url", hook.URL),
					slog.Int64("event_id", evt.ID),
					slog.Int("status", perm.status))
			case err != nil:
				return err
			}
		}
		if err := d.repo.SetHookCursor(ctx, projectID, key, evt.ID, d.now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("store cursor: %w", err)
		}
	}
	return nil
}

// cursorFor starts unseen hooks at the current end of the log so enabling
// a hook does not replay history.
func (d *Dispatcher) cursorFor(ctx context.Context, projectID, key string) (int64, error) {
	cur, ok, err := d.repo.HookCursor(ctx, projectID, key)
	if err != nil || ok {
		return cur, err
	}
	cur, err = d.repo.LatestEventID(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	if err := d.repo.SetHookCursor(ctx, projectID, key, cur, d.now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	return cur, nil
}

// Delivery is the JSON body POSTed for each event.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *Dispatcher) postEvent(ctx context.Context, projectID string, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	timeout := d.timeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return &permanentError{status: 0, body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Voicetrack-Event", evt.Type)
	req.Header.Set("X-Voicetrack-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Voicetrack-Project", projectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Voicetrack-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusRequestTimeout && res.StatusCode != http.StatusTooManyRequests {
		return &permanentError{status: res.StatusCode, body: msg}
	}
	return fmt.Errorf("status %d: %s", res.StatusCode, msg)
}
