package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient() failed: %v", err)
	}
	return c
}

func TestHTTPClient_ListTasksSendsFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("path = %q, want /api/tasks", r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("status param = %q, want open", got)
		}
		if got := r.URL.Query().Get("search"); got != "docs" {
			t.Errorf("search param = %q, want docs", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"items":[{"id":"t-1","title":"Write docs","status":"open"}]}`)
	})

	tasks, err := c.ListTasks(context.Background(), schema.Filter{Status: "open", Search: "docs"})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListTasks() returned %d items, want 1", len(tasks))
	}
	if got := string(tasks[0]); got != `{"id":"t-1","title":"Write docs","status":"open"}` {
		t.Errorf("item = %s, want the server JSON unchanged", got)
	}
}

func TestHTTPClient_MutationCarriesIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/t-1" {
			t.Errorf("request = %s %s, want PATCH /api/tasks/t-1", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(IdempotencyHeader); got != "key-1" {
			t.Errorf("%s = %q, want key-1", IdempotencyHeader, got)
		}
		var patch schema.TaskPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if patch.Title == nil || *patch.Title != "New" {
			t.Errorf("patch title = %v, want New", patch.Title)
		}
		fmt.Fprint(w, `{"id":"t-1","title":"New","status":"open"}`)
	})

	title := "New"
	task, err := c.UpdateTask(context.Background(), "key-1", "t-1", schema.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if task.Title != "New" {
		t.Errorf("Title = %q, want New", task.Title)
	}
}

func TestHTTPClient_DeleteNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteTask(context.Background(), "k", "t-1"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		connectivity bool
		message      string
	}{
		{"forbidden", http.StatusForbidden, `{"error":"not a member"}`, false, "not a member"},
		{"validation", http.StatusUnprocessableEntity, `{"message":"title too long"}`, false, "title too long"},
		{"not found", http.StatusNotFound, `gone`, false, "gone"},
		{"bad gateway", http.StatusBadGateway, ``, true, ""},
		{"unavailable", http.StatusServiceUnavailable, ``, true, ""},
		{"gateway timeout", http.StatusGatewayTimeout, ``, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := c.GetTask(context.Background(), "t-1")
			if err == nil {
				t.Fatal("GetTask() succeeded, want error")
			}
			if IsConnectivity(err) != tt.connectivity {
				t.Errorf("IsConnectivity(%v) = %v, want %v", err, !tt.connectivity, tt.connectivity)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v does not wrap *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.message {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.message)
			}
		})
	}
}

func TestHTTPClient_RefusedIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewHTTPClient(addr, "", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("NewHTTPClient() failed: %v", err)
	}

	_, err = c.ListProjects(context.Background(), schema.Filter{})
	if !IsConnectivity(err) {
		t.Errorf("IsConnectivity(%v) = false for refused connection", err)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("error %v is not ErrUnreachable", err)
	}
}

func TestHTTPClient_CallerCancelIsNotConnectivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListUsers(ctx)
	if err == nil {
		t.Fatal("ListUsers() succeeded with cancelled context")
	}
	if IsConnectivity(err) {
		t.Errorf("IsConnectivity(%v) = true for caller cancellation", err)
	}
}

func TestHTTPClient_BasePathPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/api/users" {
			t.Errorf("path = %q, want /v2/api/users", r.URL.Path)
		}
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/v2/", "", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient() failed: %v", err)
	}
	if _, err := c.ListUsers(context.Background()); err != nil {
		t.Fatalf("ListUsers() failed: %v", err)
	}
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"localhost:8080", "http://localhost:8080", false},
		{"https://tasks.example.com/", "https://tasks.example.com", false},
		{"", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		got, err := parseBaseURL(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseBaseURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("parseBaseURL(%q) = %q, want %q", tt.input, got.String(), tt.want)
		}
	}
}

func TestIsConnectivity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrUnreachable, true},
		{"wrapped sentinel", fmt.Errorf("replay: %w", ErrUnreachable), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"api 403", &APIError{StatusCode: 403}, false},
		{"api 503", &APIError{StatusCode: 503}, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivity(tt.err); got != tt.want {
				t.Errorf("IsConnectivity() = %v, want %v", got, tt.want)
			}
		})
	}
}
