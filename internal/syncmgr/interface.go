// Package syncmgr owns the pending-action queue: it executes mutations
// immediately when online, queues them when offline, and replays the queue
// once connectivity returns.
package syncmgr

import (
	"context"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// Queue is the write path of the offline data layer.
//
// Delivery is at-least-once and ordered only within the queue. Two queued
// actions touching the same record can both succeed; the server's
// last-write-wins decides the final state. No local conflict detection is
// performed.
type Queue interface {
	// EnqueueOrExecute runs a mutation now if online, or queues it.
	//
	// Online, the mutation executes against the server and its result is
	// returned. If that call fails for connectivity reasons the mutation
	// is queued instead, reusing the same idempotency key. Any other
	// failure is returned unchanged and nothing is queued.
	//
	// Offline, the mutation is appended to the queue (synced=false,
	// retryCount=0) and a Result with Queued=true is returned so the
	// caller can proceed optimistically.
	//
	// Example:
	//
	//	res, err := q.EnqueueOrExecute(ctx, &actions.CompleteTask{ID: "t-1"})
	EnqueueOrExecute(ctx context.Context, m actions.Mutation) (*Result, error)

	// SyncPendingActions replays the queue in FIFO order.
	//
	// Returns ErrOffline or ErrDrainRunning without doing anything when
	// the host is offline or another drain holds the queue. Otherwise
	// every action captured at drain start is processed exactly once:
	// actions that reached the retry ceiling are dead-lettered, the rest
	// are executed. Rejections bump the retry count and never abort the
	// drain. A connectivity failure leaves that action and every later one
	// queued with its retry count unchanged. The drain is not cancellable
	// once started.
	SyncPendingActions(ctx context.Context) (*Report, error)

	// PendingCount returns the number of queued actions.
	PendingCount(ctx context.Context) (int, error)

	// PendingActions lists queued actions in replay order.
	PendingActions(ctx context.Context) ([]store.PendingAction, error)

	// PendingMutations returns the decoded queued mutations that touch a
	// collection, in replay order. The query layer layers these over reads.
	PendingMutations(ctx context.Context, c schema.Collection) ([]actions.Mutation, error)
}

// Connectivity reports the host's network state.
type Connectivity interface {
	IsOnline() bool
}

// Invalidator marks cached reads of collections stale.
type Invalidator interface {
	Invalidate(collections ...schema.Collection)
}
