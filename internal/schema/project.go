package schema

import (
	"fmt"
	"time"
)

// Project groups tasks.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"` // active, archived
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// ToRecord implements Recordable.
// Projects index their owner in the assignee column.
func (p Project) ToRecord() (Record, error) {
	if err := p.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid project: %w", err)
	}
	data, err := marshalRecord(CollectionProjects, p.ID, p)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Collection: CollectionProjects,
		ID:         p.ID,
		Data:       data,
		ProjectID:  p.ID,
		Assignee:   p.OwnerID,
		Status:     p.Status,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

// User is a member of the workspace.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToRecord implements Recordable.
func (u User) ToRecord() (Record, error) {
	if u.ID == "" {
		return Record{}, fmt.Errorf("invalid user: id is required")
	}
	data, err := marshalRecord(CollectionUsers, u.ID, u)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Collection: CollectionUsers,
		ID:         u.ID,
		Data:       data,
		UpdatedAt:  u.UpdatedAt,
	}, nil
}

// TimeEntry is a span of tracked work on a task.
type TimeEntry struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	ProjectID string     `json:"project_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Note      string     `json:"note,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Running reports whether the entry has not been stopped yet.
func (e *TimeEntry) Running() bool {
	return e.StoppedAt == nil
}

// ToRecord implements Recordable.
// A running entry is indexed with status "running", a stopped one with "stopped".
func (e TimeEntry) ToRecord() (Record, error) {
	if e.ID == "" {
		return Record{}, fmt.Errorf("invalid time entry: id is required")
	}
	if e.TaskID == "" {
		return Record{}, fmt.Errorf("invalid time entry: task_id is required")
	}
	data, err := marshalRecord(CollectionTimeEntries, e.ID, e)
	if err != nil {
		return Record{}, err
	}
	status := "stopped"
	if e.Running() {
		status = "running"
	}
	return Record{
		Collection: CollectionTimeEntries,
		ID:         e.ID,
		Data:       data,
		ProjectID:  e.ProjectID,
		Assignee:   e.UserID,
		Status:     status,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}
