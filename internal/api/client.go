// Package api is the network collaborator of the offline data layer: the
// task service's REST surface.
//
// Every mutating call carries an idempotency key so a replayed queued
// action is safe to deliver more than once.
package api

import (
	"context"
	"encoding/json"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Client is the server API consumed by the query and sync layers.
//
// List calls return each item's JSON as sent so the cache keeps fields this
// client does not model.
type Client interface {
	ListTasks(ctx context.Context, f schema.Filter) ([]json.RawMessage, error)
	GetTask(ctx context.Context, id string) (*schema.Task, error)
	CreateTask(ctx context.Context, key string, t schema.Task) (*schema.Task, error)
	UpdateTask(ctx context.Context, key, id string, p schema.TaskPatch) (*schema.Task, error)
	DeleteTask(ctx context.Context, key, id string) error
	CompleteTask(ctx context.Context, key, id string) (*schema.Task, error)
	StartTimer(ctx context.Context, key, taskID string) (*schema.TimeEntry, error)
	StopTimer(ctx context.Context, key, taskID string) (*schema.TimeEntry, error)

	ListProjects(ctx context.Context, f schema.Filter) ([]json.RawMessage, error)
	GetProject(ctx context.Context, id string) (*schema.Project, error)
	CreateProject(ctx context.Context, key string, p schema.Project) (*schema.Project, error)
	UpdateProject(ctx context.Context, key, id string, p schema.ProjectPatch) (*schema.Project, error)
	DeleteProject(ctx context.Context, key, id string) error

	ListTimeEntries(ctx context.Context, f schema.Filter) ([]json.RawMessage, error)
	ListUsers(ctx context.Context) ([]json.RawMessage, error)
}
