package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// localEntryPrefix marks time entries that exist only in the overlay.
const localEntryPrefix = "local-"

// StartTimer starts tracking time on a task.
type StartTimer struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

func (m *StartTimer) isMutation() {}

func (m *StartTimer) Kind() Kind { return KindStartTimer }

func (m *StartTimer) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	return nil
}

func (m *StartTimer) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks, schema.CollectionTimeEntries}
}

func (m *StartTimer) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.StartTimer(ctx, key, m.TaskID)
}

func (m *StartTimer) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	at := stamp(m.At)

	switch c {
	case schema.CollectionTasks:
		return editRecords[schema.Task](recs, byID(m.TaskID), func(t *schema.Task) {
			started := at
			t.TimerStartedAt = &started
			t.UpdatedAt = at
		})

	case schema.CollectionTimeEntries:
		entry := schema.TimeEntry{
			ID:        fmt.Sprintf("%s%s-%d", localEntryPrefix, m.TaskID, at.UnixNano()),
			TaskID:    m.TaskID,
			ProjectID: m.ProjectID,
			UserID:    m.UserID,
			StartedAt: at,
			UpdatedAt: at,
		}
		rec, err := entry.ToRecord()
		if err != nil {
			return recs
		}
		return upsertRecord(recs, rec)
	}

	return recs
}

// StopTimer stops the running timer on a task.
type StopTimer struct {
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

func (m *StopTimer) isMutation() {}

func (m *StopTimer) Kind() Kind { return KindStopTimer }

func (m *StopTimer) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	return nil
}

func (m *StopTimer) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionTasks, schema.CollectionTimeEntries}
}

func (m *StopTimer) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.StopTimer(ctx, key, m.TaskID)
}

func (m *StopTimer) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	at := stamp(m.At)

	switch c {
	case schema.CollectionTasks:
		return editRecords[schema.Task](recs, byID(m.TaskID), func(t *schema.Task) {
			t.TimerStartedAt = nil
			t.UpdatedAt = at
		})

	case schema.CollectionTimeEntries:
		running := func(rec *schema.Record) bool { return rec.Status == "running" }
		return editRecords[schema.TimeEntry](recs, running, func(e *schema.TimeEntry) {
			if e.TaskID != m.TaskID || !e.Running() {
				return
			}
			stopped := at
			e.StoppedAt = &stopped
			e.UpdatedAt = at
		})
	}

	return recs
}
