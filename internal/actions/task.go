package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// CreateTask creates a task. The ID is generated on the client so the
// optimistic record and the server record share it.
type CreateTask struct {
	Task schema.Task `json:"task"`
}

func (m *CreateTask) isMutation() {}

func (m *CreateTask) Kind() Kind { return KindCreateTask }

func (m *CreateTask) Validate() error {
	t := m.Task
	t.SetDefaults()
	return t.Validate()
}

func (m *CreateTask) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks}
}

func (m *CreateTask) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.CreateTask(ctx, key, m.Task)
}

func (m *CreateTask) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionTasks {
		return recs
	}
	t := m.Task
	t.SetDefaults()
	rec, err := t.ToRecord()
	if err != nil {
		return recs
	}
	return upsertRecord(recs, rec)
}

// UpdateTask applies a partial update to a task.
type UpdateTask struct {
	ID    string           `json:"id"`
	Patch schema.TaskPatch `json:"patch"`
	At    time.Time        `json:"at"`
}

func (m *UpdateTask) isMutation() {}

func (m *UpdateTask) Kind() Kind { return KindUpdateTask }

func (m *UpdateTask) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task id is required")
	}
	return m.Patch.Validate()
}

func (m *UpdateTask) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks}
}

func (m *UpdateTask) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.UpdateTask(ctx, key, m.ID, m.Patch)
}

func (m *UpdateTask) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionTasks {
		return recs
	}
	return editRecords[schema.Task](recs, byID(m.ID), func(t *schema.Task) {
		m.Patch.Apply(t, stamp(m.At))
	})
}

// DeleteTask removes a task.
type DeleteTask struct {
	ID string `json:"id"`
}

func (m *DeleteTask) isMutation() {}

func (m *DeleteTask) Kind() Kind { return KindDeleteTask }

func (m *DeleteTask) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task id is required")
	}
	return nil
}

func (m *DeleteTask) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks, schema.CollectionTimeEntries}
}

func (m *DeleteTask) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return nil, ignoreNotFound(c.DeleteTask(ctx, key, m.ID))
}

func (m *DeleteTask) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionTasks {
		return recs
	}
	return removeRecord(recs, m.ID)
}

// CompleteTask marks a task done.
type CompleteTask struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (m *CompleteTask) isMutation() {}

func (m *CompleteTask) Kind() Kind { return KindCompleteTask }

func (m *CompleteTask) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task id is required")
	}
	return nil
}

func (m *CompleteTask) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks}
}

func (m *CompleteTask) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.CompleteTask(ctx, key, m.ID)
}

func (m *CompleteTask) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionTasks {
		return recs
	}
	return editRecords[schema.Task](recs, byID(m.ID), func(t *schema.Task) {
		t.Status = schema.StatusDone
		t.UpdatedAt = stamp(m.At)
	})
}

// stamp returns the mutation's capture time, or now for payloads queued
// without one.
func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}
