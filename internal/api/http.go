package api

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

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)

const (
	defaultUserAgent      = "tsync/0.1"
	defaultRequestTimeout = 10 * time.Second

	// IdempotencyHeader carries the per-action key on mutating requests.
	IdempotencyHeader = "Idempotency-Key"
)

// HTTPClient talks to the task service over JSON/HTTP.
type HTTPClient struct {
	baseURL   *url.URL
	http      *http.Client
	token     string
	userAgent string
}

type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// NewHTTPClient builds a client for baseURL. A zero timeout uses the default.
func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		token:     token,
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the resolved server URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

func (c *HTTPClient) ListTasks(ctx context.Context, f schema.Filter) ([]json.RawMessage, error) {
	var payload listResponse
	if err := c.do(ctx, http.MethodGet, listURL("/api/tasks", f), "", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (c *HTTPClient) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodGet, entityURL("/api/tasks", id), "", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) CreateTask(ctx context.Context, key string, t schema.Task) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPost, &url.URL{Path: "/api/tasks"}, key, t, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) UpdateTask(ctx context.Context, key, id string, p schema.TaskPatch) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPatch, entityURL("/api/tasks", id), key, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) DeleteTask(ctx context.Context, key, id string) error {
	return c.do(ctx, http.MethodDelete, entityURL("/api/tasks", id), key, nil, nil)
}

func (c *HTTPClient) CompleteTask(ctx context.Context, key, id string) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPost, entityURL("/api/tasks", id, "complete"), key, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) StartTimer(ctx context.Context, key, taskID string) (*schema.TimeEntry, error) {
	var entry schema.TimeEntry
	if err := c.do(ctx, http.MethodPost, entityURL("/api/tasks", taskID, "timer", "start"), key, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *HTTPClient) StopTimer(ctx context.Context, key, taskID string) (*schema.TimeEntry, error) {
	var entry schema.TimeEntry
	if err := c.do(ctx, http.MethodPost, entityURL("/api/tasks", taskID, "timer", "stop"), key, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *HTTPClient) ListProjects(ctx context.Context, f schema.Filter) ([]json.RawMessage, error) {
	var payload listResponse
	if err := c.do(ctx, http.MethodGet, listURL("/api/projects", f), "", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (c *HTTPClient) GetProject(ctx context.Context, id string) (*schema.Project, error) {
	var project schema.Project
	if err := c.do(ctx, http.MethodGet, entityURL("/api/projects", id), "", nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *HTTPClient) CreateProject(ctx context.Context, key string, p schema.Project) (*schema.Project, error) {
	var project schema.Project
	if err := c.do(ctx, http.MethodPost, &url.URL{Path: "/api/projects"}, key, p, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *HTTPClient) UpdateProject(ctx context.Context, key, id string, p schema.ProjectPatch) (*schema.Project, error) {
	var project schema.Project
	if err := c.do(ctx, http.MethodPatch, entityURL("/api/projects", id), key, p, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *HTTPClient) DeleteProject(ctx context.Context, key, id string) error {
	return c.do(ctx, http.MethodDelete, entityURL("/api/projects", id), key, nil, nil)
}

func (c *HTTPClient) ListTimeEntries(ctx context.Context, f schema.Filter) ([]json.RawMessage, error) {
	var payload listResponse
	if err := c.do(ctx, http.MethodGet, listURL("/api/time_entries", f), "", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context) ([]json.RawMessage, error) {
	var payload listResponse
	if err := c.do(ctx, http.MethodGet, &url.URL{Path: "/api/users"}, "", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (c *HTTPClient) do(ctx context.Context, method string, rel *url.URL, key string, body, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ref := *rel
	ref.Path = c.baseURL.Path + rel.Path
	reqURL := c.baseURL.ResolveReference(&ref)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	op := method + " " + rel.Path

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &UnreachableError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		if gatewayStatus(resp.StatusCode) {
			return &UnreachableError{Op: op, Err: apiErr}
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}

func listURL(path string, f schema.Filter) *url.URL {
	return &url.URL{Path: path, RawQuery: f.Values().Encode()}
}

func entityURL(base, id string, rest ...string) *url.URL {
	parts := append([]string{base, id}, rest...)
	return &url.URL{Path: strings.Join(parts, "/")}
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("api url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}
