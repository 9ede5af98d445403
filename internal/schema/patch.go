package schema

import (
	"fmt"
	"strings"
	"time"
)

// TaskPatch is a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	ProjectID   *string    `json:"project_id,omitempty"`
	Assignee    *string    `json:"assignee,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p == TaskPatch{}
}

// Validate checks the fields the patch sets.
func (p TaskPatch) Validate() error {
	if p.IsEmpty() {
		return fmt.Errorf("patch changes nothing")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if p.Status != nil && !validTaskStatus(*p.Status) {
		return fmt.Errorf("invalid status %q", *p.Status)
	}
	if p.Priority != nil && (*p.Priority < 0 || *p.Priority > 4) {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", *p.Priority)
	}
	return nil
}

// Apply writes the patch onto t and bumps UpdatedAt.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.DueAt != nil {
		due := *p.DueAt
		t.DueAt = &due
	}
	t.UpdatedAt = now
}

// ProjectPatch is a partial project update. Nil fields are left unchanged.
type ProjectPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProjectPatch) IsEmpty() bool {
	return p == ProjectPatch{}
}

// Validate checks the fields the patch sets.
func (p ProjectPatch) Validate() error {
	if p.IsEmpty() {
		return fmt.Errorf("patch changes nothing")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

// Apply writes the patch onto pr and bumps UpdatedAt.
func (p ProjectPatch) Apply(pr *Project, now time.Time) {
	if p.Name != nil {
		pr.Name = *p.Name
	}
	if p.Description != nil {
		pr.Description = *p.Description
	}
	if p.Status != nil {
		pr.Status = *p.Status
	}
	if p.OwnerID != nil {
		pr.OwnerID = *p.OwnerID
	}
	pr.UpdatedAt = now
}
