package voicetracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal voicetrack HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	ProjectID  string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "v1",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	StageID     string `json:"stage_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}

type Stage struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Tasks       []Task `json:"tasks"`
}

// Gate reports whether a task may change status and what blocks it.
type Gate struct {
	Task     Task   `json:"task"`
	Allowed  bool   `json:"allowed"`
	Blocking []Task `json:"blocking"`
}

type Summary struct {
	ProjectID       string         `json:"project_id"`
	TotalTasks      int            `json:"total_tasks"`
	ApprovedTasks   int            `json:"approved_tasks"`
	OverallProgress int            `json:"overall_progress"`
	CurrentStageID  string         `json:"current_stage_id"`
	StatusCounts    map[string]int `json:"status_counts"`
}

type Data struct {
	ProjectID string `json:"project_id"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsGated reports whether err is a gating violation from the API.
func IsGated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "gating_violation"
}

// CreateProject creates a project seeded with the default workflow, or
// with configYAML when it is not empty. The client's ProjectID is set to
// the new project.
func (c *Client) CreateProject(ctx context.Context, id, name, configYAML string) (Project, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	if configYAML != "" {
		body["config_yaml"] = configYAML
	}
	var resp Project
	if err := c.do(ctx, http.MethodPost, c.apiPath("projects"), body, &resp); err != nil {
		return resp, err
	}
	c.ProjectID = resp.ID
	return resp, nil
}

func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.apiPath("projects", c.ProjectID), nil, &resp)
	return resp, err
}

// Stages lists the project's stages with tasks and derived progress.
func (c *Client) Stages(ctx context.Context) ([]Stage, error) {
	var resp struct {
		Stages []Stage `json:"stages"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("stages"), nil, &resp)
	return resp.Stages, err
}

func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, c.projectPath("summary"), nil, &resp)
	return resp, err
}

// UpdateTaskStatus sets a task's status.
func (c *Client) UpdateTaskStatus(ctx context.Context, stageID, taskID, status string, force bool) (Task, error) {
	body := map[string]any{"status": status}
	if force {
		body["force"] = true
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(stageID, taskID, "status"), body, &resp)
	return resp, err
}

func (c *Client) Gate(ctx context.Context, stageID, taskID string) (Gate, error) {
	var resp Gate
	err := c.do(ctx, http.MethodGet, c.taskPath(stageID, taskID, "gate"), nil, &resp)
	return resp, err
}

// SetData stores value under key.
func (c *Client) SetData(ctx context.Context, key string, value any) (Data, error) {
	var resp Data
	err := c.do(ctx, http.MethodPut, c.projectPath("data", key), map[string]any{"value": value}, &resp)
	return resp, err
}

func (c *Client) GetData(ctx context.Context, key string) (Data, error) {
	var resp Data
	err := c.do(ctx, http.MethodGet, c.projectPath("data", key), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, strings.Trim(c.BasePath, "/"))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (c *Client) projectPath(parts ...string) string {
	return c.apiPath(append([]string{"projects", c.ProjectID}, parts...)...)
}

func (c *Client) taskPath(stageID, taskID, action string) string {
	return c.projectPath("stages", stageID, "tasks", taskID, action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
