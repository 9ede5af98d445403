// Package offline assembles the data layer behind one handle.
//
// An Engine owns the query resolver, the sync manager and its scheduler,
// and the real-time channel, wired to a shared store and connectivity
// detector. Construct it once at startup and pass it to whatever needs to
// read or write.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/netstatus"
	"github.com/mschirtzinger/tasksync/internal/notify"
	"github.com/mschirtzinger/tasksync/internal/query"
	"github.com/mschirtzinger/tasksync/internal/realtime"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
	"github.com/mschirtzinger/tasksync/internal/syncmgr"
)

// Options configures an Engine. Store and Client are required.
type Options struct {
	Store  *store.Store
	Client api.Client

	// Detector is the connectivity source. Nil assumes online.
	Detector *netstatus.Detector

	Query    query.Config
	Sync     *syncmgr.Config
	Realtime *realtime.Config // nil leaves the channel disabled

	// Notifier, when set, replaces the sync and channel notifiers
	Notifier notify.Notifier

	// OnPendingCount receives the periodic pending-count reading
	OnPendingCount func(int)

	// Logger for engine lifecycle messages
	Logger *log.Logger
}

// Engine is the data layer's public surface.
type Engine struct {
	store     *store.Store
	client    api.Client
	detector  *netstatus.Detector
	resolver  *query.Resolver
	manager   *syncmgr.Manager
	scheduler *syncmgr.Scheduler
	channel   *realtime.Channel
	logger    *log.Logger
}

// New wires an Engine. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("api client cannot be nil")
	}
	if opts.Detector == nil {
		opts.Detector = netstatus.New(true, nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if opts.Sync == nil {
		opts.Sync = syncmgr.DefaultConfig()
	}
	if opts.Realtime == nil {
		opts.Realtime = realtime.DefaultConfig()
		opts.Realtime.Disabled = true
	}
	if opts.Notifier != nil {
		opts.Sync.Notifier = opts.Notifier
		opts.Realtime.Notifier = opts.Notifier
	}

	resolver := query.NewResolver(opts.Store, opts.Detector, opts.Query)

	manager, err := syncmgr.NewWithConfig(opts.Store, opts.Client, opts.Detector, resolver, opts.Sync)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync manager: %w", err)
	}
	resolver.SetOverlay(manager)

	scheduler, err := syncmgr.NewScheduler(manager, opts.Detector, opts.OnPendingCount)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	channel, err := realtime.New(opts.Realtime, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create real-time channel: %w", err)
	}

	return &Engine{
		store:     opts.Store,
		client:    opts.Client,
		detector:  opts.Detector,
		resolver:  resolver,
		manager:   manager,
		scheduler: scheduler,
		channel:   channel,
		logger:    opts.Logger,
	}, nil
}

// Start launches the scheduler and, when configured, the real-time
// channel. A channel that cannot start is logged, not returned.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	err := e.channel.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrDisabled):
		e.logger.Println("Real-time channel disabled")
	case errors.Is(err, realtime.ErrNoToken):
		e.logger.Println("Real-time channel needs a session token; staying disconnected")
	default:
		e.logger.Printf("Real-time channel not started: %v", err)
	}
	return nil
}

// Close stops the channel and the scheduler. The store stays open; its
// owner closes it.
func (e *Engine) Close() error {
	if err := e.channel.Close(); err != nil {
		e.logger.Printf("Error closing channel: %v", err)
	}
	return e.scheduler.Stop()
}

// EnqueueOrExecute runs a mutation now when online, or queues it.
func (e *Engine) EnqueueOrExecute(ctx context.Context, m actions.Mutation) (*syncmgr.Result, error) {
	return e.manager.EnqueueOrExecute(ctx, m)
}

// ResolveQuery reads key through the cache. A nil fetch uses the API
// client's list endpoint for the collection.
func (e *Engine) ResolveQuery(ctx context.Context, key query.Key, fetch query.FetchFunc) (*query.Result, error) {
	if fetch == nil {
		f, err := query.FetcherFor(e.client, key)
		if err != nil {
			return nil, err
		}
		fetch = f
	}
	return e.resolver.Resolve(ctx, key, fetch)
}

// GetPendingCount returns the number of queued actions.
func (e *Engine) GetPendingCount(ctx context.Context) (int, error) {
	return e.manager.PendingCount(ctx)
}

// SyncPendingActions drains the queue now.
func (e *Engine) SyncPendingActions(ctx context.Context) (*syncmgr.Report, error) {
	return e.manager.SyncPendingActions(ctx)
}

// GetConnectionState returns the real-time channel's state.
func (e *Engine) GetConnectionState() realtime.State {
	return e.channel.State()
}

// SubscribeToInvalidations calls fn whenever cached reads of c go stale.
func (e *Engine) SubscribeToInvalidations(c schema.Collection, fn func(schema.Collection)) (unsubscribe func()) {
	return e.resolver.Subscribe(c, fn)
}

// IsOnline reports the detector's view of connectivity.
func (e *Engine) IsOnline() bool {
	return e.detector.IsOnline()
}

// Detector returns the connectivity detector.
func (e *Engine) Detector() *netstatus.Detector { return e.detector }

// Resolver returns the query resolver.
func (e *Engine) Resolver() *query.Resolver { return e.resolver }

// Manager returns the sync manager.
func (e *Engine) Manager() *syncmgr.Manager { return e.manager }

// Channel returns the real-time channel.
func (e *Engine) Channel() *realtime.Channel { return e.channel }

// Store returns the local store.
func (e *Engine) Store() *store.Store { return e.store }
