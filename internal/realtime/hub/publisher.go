package hub

import (
	"log"

	"github.com/mschirtzinger/tasksync/internal/realtime"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Broadcaster delivers a message to connected clients.
type Broadcaster interface {
	Broadcast(msg realtime.Message)
}

// Publisher formats entity changes as channel events.
type Publisher struct {
	target Broadcaster
	logger *log.Logger
}

// NewPublisher creates a publisher broadcasting to target.
func NewPublisher(target Broadcaster, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	return &Publisher{target: target, logger: logger}
}

// TaskUpdated announces a created or changed task.
func (p *Publisher) TaskUpdated(t schema.Task, action string) {
	p.logger.Printf("Task %s: %s (%s)", action, t.ID, t.Title)
	p.publish(realtime.MessageTaskUpdated, taskEvent(t, action))
}

// TaskAssigned announces a change of assignee.
func (p *Publisher) TaskAssigned(t schema.Task) {
	p.logger.Printf("Task assigned: %s -> %s", t.ID, t.Assignee)
	p.publish(realtime.MessageTaskAssigned, taskEvent(t, "updated"))
}

// TaskCompleted announces a completed task.
func (p *Publisher) TaskCompleted(t schema.Task) {
	p.logger.Printf("Task completed: %s", t.ID)
	p.publish(realtime.MessageTaskCompleted, taskEvent(t, "updated"))
}

// TaskDeleted announces a deleted task.
func (p *Publisher) TaskDeleted(id string) {
	p.logger.Printf("Task deleted: %s", id)
	p.publish(realtime.MessageTaskDeleted, realtime.EntityEvent{ID: id, Action: "deleted"})
}

// ProjectUpdated announces a created, changed or deleted project.
func (p *Publisher) ProjectUpdated(pr schema.Project, action string) {
	p.logger.Printf("Project %s: %s (%s)", action, pr.ID, pr.Name)
	p.publish(realtime.MessageProjectUpdated, realtime.EntityEvent{
		ID:     pr.ID,
		Status: pr.Status,
		Action: action,
	})
}

// TimeEntryUpdated announces a started or stopped timer.
func (p *Publisher) TimeEntryUpdated(e schema.TimeEntry) {
	action := "stopped"
	if e.Running() {
		action = "started"
	}
	p.logger.Printf("Timer %s: %s on %s", action, e.ID, e.TaskID)
	p.publish(realtime.MessageTimeEntryUpdated, realtime.EntityEvent{
		ID:        e.ID,
		TaskID:    e.TaskID,
		ProjectID: e.ProjectID,
		Action:    action,
	})
}

func (p *Publisher) publish(t realtime.MessageType, data any) {
	msg, err := realtime.NewMessage(t, data)
	if err != nil {
		p.logger.Printf("Failed to marshal %s: %v", t, err)
		return
	}
	p.target.Broadcast(msg)
}

func taskEvent(t schema.Task, action string) realtime.EntityEvent {
	return realtime.EntityEvent{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		Assignee:  t.Assignee,
		Status:    t.Status,
		Action:    action,
	}
}
