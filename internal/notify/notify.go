// Package notify carries user-facing notifications out of the data layer.
//
// The data layer reports queueing, drain progress and connection changes
// through a Notifier. Delivery is best effort: a failing or panicking
// notifier never affects the operation that raised the notification.
package notify

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// String returns a human-readable representation of the level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is one user-facing message.
type Notification struct {
	Level   Level
	Title   string
	Message string
}

func (n Notification) String() string {
	if n.Message == "" {
		return fmt.Sprintf("[%s] %s", n.Level, n.Title)
	}
	return fmt.Sprintf("[%s] %s: %s", n.Level, n.Title, n.Message)
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to a Notifier.
type Func func(n Notification)

// Notify implements Notifier.
func (f Func) Notify(n Notification) { f(n) }

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Notification) {}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	l.Logger.Println(n.String())
}

// Recorder keeps every notification it receives. Useful in tests and for
// the CLI's end-of-command summary.
type Recorder struct {
	mu    sync.Mutex
	notes []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

// Send delivers n to target, containing any panic. A nil target is a no-op.
func Send(target Notifier, n Notification, logger *log.Logger) {
	if target == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = log.New(io.Discard, "", 0)
			}
			logger.Printf("notifier panicked: %v", r)
		}
	}()
	target.Notify(n)
}
