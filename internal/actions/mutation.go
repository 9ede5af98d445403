// Package actions defines the mutations the offline data layer can queue.
//
// A Mutation is a closed set of variants, one per server write. Each
// variant knows how to run itself against the API, which cached
// collections it makes stale, and how to apply itself optimistically to
// cached records while it waits in the queue. Variants round-trip through
// Encode and Decode so queued actions survive restarts.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Kind tags a mutation variant in storage.
type Kind string

const (
	KindCreateTask    Kind = "task.create"
	KindUpdateTask    Kind = "task.update"
	KindDeleteTask    Kind = "task.delete"
	KindCompleteTask  Kind = "task.complete"
	KindStartTimer    Kind = "timer.start"
	KindStopTimer     Kind = "timer.stop"
	KindCreateProject Kind = "project.create"
	KindUpdateProject Kind = "project.update"
	KindDeleteProject Kind = "project.delete"
)

// ErrUnknownKind is returned when a stored action names no known variant.
var ErrUnknownKind = errors.New("unknown action kind")

// Mutation is one server write.
type Mutation interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Validate checks the payload before it is executed or queued.
	Validate() error
	// Affected lists the collections whose cached reads are stale once the
	// mutation reaches the server.
	Affected() []schema.Collection
	// Execute performs the mutation. key is sent as the idempotency key.
	Execute(ctx context.Context, c api.Client, key string) (any, error)
	// Optimistic returns recs as they would look after the mutation. It
	// must not modify recs in place.
	Optimistic(c schema.Collection, recs []schema.Record) []schema.Record

	isMutation()
}

// Encode serializes a mutation for the pending-action queue.
func Encode(m Mutation) (Kind, json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	return m.Kind(), data, nil
}

// Decode rebuilds a mutation from its stored kind and payload.
func Decode(kind Kind, payload json.RawMessage) (Mutation, error) {
	var m Mutation
	switch kind {
	case KindCreateTask:
		m = &CreateTask{}
	case KindUpdateTask:
		m = &UpdateTask{}
	case KindDeleteTask:
		m = &DeleteTask{}
	case KindCompleteTask:
		m = &CompleteTask{}
	case KindStartTimer:
		m = &StartTimer{}
	case KindStopTimer:
		m = &StopTimer{}
	case KindCreateProject:
		m = &CreateProject{}
	case KindUpdateProject:
		m = &UpdateProject{}
	case KindDeleteProject:
		m = &DeleteProject{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return m, nil
}

// AffectsCollection reports whether m touches records of c.
func AffectsCollection(m Mutation, c schema.Collection) bool {
	for _, a := range m.Affected() {
		if a == c {
			return true
		}
	}
	return false
}

// ignoreNotFound treats a 404 on delete as success: a replayed delete may
// land after the first copy already removed the entity.
func ignoreNotFound(err error) error {
	if api.IsNotFound(err) {
		return nil
	}
	return err
}
