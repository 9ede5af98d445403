package schema

import (
	"fmt"
	"time"
)

// Task statuses understood by the cache filters.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDone       = "done"
)

// TaskStatuses lists the valid task statuses.
var TaskStatuses = []string{StatusOpen, StatusInProgress, StatusBlocked, StatusDone}

// Task is a unit of work inside a project.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"` // 0-4 (P0=critical, P4=backlog)

	ProjectID string   `json:"project_id,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	DueAt          *time.Time `json:"due_at,omitempty"`
	TimerStartedAt *time.Time `json:"timer_started_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Priority < 0 || t.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", t.Priority)
	}
	if !validTaskStatus(t.Status) {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// ToRecord implements Recordable.
func (t Task) ToRecord() (Record, error) {
	if err := t.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid task: %w", err)
	}
	data, err := marshalRecord(CollectionTasks, t.ID, t)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Collection: CollectionTasks,
		ID:         t.ID,
		Data:       data,
		ProjectID:  t.ProjectID,
		Assignee:   t.Assignee,
		Status:     t.Status,
		UpdatedAt:  t.UpdatedAt,
	}, nil
}

func validTaskStatus(s string) bool {
	for _, known := range TaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}
