// Package realtime keeps a push channel to the task service open and turns
// its events into cache invalidations.
//
// The channel never writes to the local store. Events only mark query keys
// stale, so the next read refetches and the network response remains the
// only writer of authoritative records.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// MessageType names a wire event.
type MessageType string

const (
	// MessageTaskUpdated indicates a task was created or changed
	MessageTaskUpdated MessageType = "task.updated"

	// MessageTaskAssigned indicates a task changed assignee
	MessageTaskAssigned MessageType = "task.assigned"

	// MessageTaskCompleted indicates a task was completed
	MessageTaskCompleted MessageType = "task.completed"

	// MessageTaskDeleted indicates a task was deleted
	MessageTaskDeleted MessageType = "task.deleted"

	// MessageProjectUpdated indicates a project was created, changed or deleted
	MessageProjectUpdated MessageType = "project.updated"

	// MessageTimeEntryUpdated indicates a timer started or stopped
	MessageTimeEntryUpdated MessageType = "time_entry.updated"

	// MessageTyping is a client-emitted typing indicator, relayed as is
	MessageTyping MessageType = "typing"
)

// Message is one frame on the channel.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntityEvent is the payload of the entity event types.
type EntityEvent struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
	Status    string `json:"status,omitempty"`
	Action    string `json:"action,omitempty"` // created, updated, deleted
}

// TypingData is the payload of a typing indicator.
type TypingData struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id,omitempty"`
	Typing bool   `json:"typing"`
}

// Collections returns the collections an event of this type makes stale.
func (t MessageType) Collections() []schema.Collection {
	switch t {
	case MessageTaskUpdated, MessageTaskAssigned, MessageTaskCompleted:
		return []schema.Collection{schema.CollectionTasks}
	case MessageTaskDeleted:
		return []schema.Collection{schema.CollectionTasks, schema.CollectionTimeEntries}
	case MessageProjectUpdated:
		return []schema.Collection{schema.CollectionProjects}
	case MessageTimeEntryUpdated:
		// Running timers are mirrored on the task.
		return []schema.Collection{schema.CollectionTimeEntries, schema.CollectionTasks}
	default:
		return nil
	}
}

// NewMessage builds a message with data marshalled to JSON.
func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now().UTC()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}
