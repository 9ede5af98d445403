package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// CreateProject creates a project with a client-generated ID.
type CreateProject struct {
	Project schema.Project `json:"project"`
}

func (m *CreateProject) isMutation() {}

func (m *CreateProject) Kind() Kind { return KindCreateProject }

func (m *CreateProject) Validate() error {
	return m.Project.Validate()
}

func (m *CreateProject) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionProjects}
}

func (m *CreateProject) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.CreateProject(ctx, key, m.Project)
}

func (m *CreateProject) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionProjects {
		return recs
	}
	p := m.Project
	if p.Status == "" {
		p.Status = "active"
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	rec, err := p.ToRecord()
	if err != nil {
		return recs
	}
	return upsertRecord(recs, rec)
}

// UpdateProject applies a partial update to a project.
type UpdateProject struct {
	ID    string              `json:"id"`
	Patch schema.ProjectPatch `json:"patch"`
	At    time.Time           `json:"at"`
}

func (m *UpdateProject) isMutation() {}

func (m *UpdateProject) Kind() Kind { return KindUpdateProject }

func (m *UpdateProject) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("project id is required")
	}
	return m.Patch.Validate()
}

func (m *UpdateProject) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionProjects}
}

func (m *UpdateProject) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return c.UpdateProject(ctx, key, m.ID, m.Patch)
}

func (m *UpdateProject) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	if c != schema.CollectionProjects {
		return recs
	}
	return editRecords[schema.Project](recs, byID(m.ID), func(p *schema.Project) {
		m.Patch.Apply(p, stamp(m.At))
	})
}

// DeleteProject removes a project. The server cascades to its tasks.
type DeleteProject struct {
	ID string `json:"id"`
}

func (m *DeleteProject) isMutation() {}

func (m *DeleteProject) Kind() Kind { return KindDeleteProject }

func (m *DeleteProject) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("project id is required")
	}
	return nil
}

func (m *DeleteProject) Affected() []schema.Collection {
	return []schema.Collection{schema.CollectionProjects, schema.CollectionTasks, schema.CollectionTimeEntries}
}

func (m *DeleteProject) Execute(ctx context.Context, c api.Client, key string) (any, error) {
	return nil, ignoreNotFound(c.DeleteProject(ctx, key, m.ID))
}

func (m *DeleteProject) Optimistic(c schema.Collection, recs []schema.Record) []schema.Record {
	switch c {
	case schema.CollectionProjects:
		return removeRecord(recs, m.ID)
	case schema.CollectionTasks:
		out := make([]schema.Record, 0, len(recs))
		for _, rec := range recs {
			if rec.ProjectID != m.ID {
				out = append(out, rec)
			}
		}
		return out
	}
	return recs
}
