package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/notify"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// DefaultMaxRetries is how many failed replays an action gets before it is
// dead-lettered on its next turn.
const DefaultMaxRetries = 3

var (
	// ErrDrainRunning is returned when a drain is already in progress.
	ErrDrainRunning = errors.New("sync already in progress")

	// ErrOffline is returned when a drain is requested while offline.
	ErrOffline = errors.New("offline")
)

// Ensure Manager implements Queue at compile time.
var _ Queue = (*Manager)(nil)

// Config holds configuration for the manager and its scheduler.
type Config struct {
	// MaxRetries is the retry ceiling per action
	MaxRetries int

	// DrainDelay is how long to wait after connectivity returns before
	// draining, so the network stack can settle
	DrainDelay time.Duration

	// CountInterval is how often the scheduler reports the pending count
	CountInterval time.Duration

	// Logger for sync activity
	Logger *log.Logger

	// Notifier receives user-facing messages
	Notifier notify.Notifier

	// DeadLetter receives actions dropped at the retry ceiling. Nil drops
	// them silently apart from the notification.
	DeadLetter DeadLetterSink

	// OnProgress is called after each action of a drain
	OnProgress func(Progress)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    DefaultMaxRetries,
		DrainDelay:    3 * time.Second,
		CountInterval: 5 * time.Second,
		Logger:        log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Notifier:      notify.Nop{},
	}
}

// Result is the outcome of EnqueueOrExecute.
type Result struct {
	// Queued is true when the mutation was stored for later replay
	Queued bool
	// ActionID is the queued action's ID when Queued is set
	ActionID int64
	// Data is the server's response when the mutation executed
	Data any
}

// Report summarizes one drain. Deferred counts actions left queued untouched
// because the server was unreachable.
type Report struct {
	Total        int           `json:"total" yaml:"total"`
	Succeeded    int           `json:"succeeded" yaml:"succeeded"`
	Failed       int           `json:"failed" yaml:"failed"`
	DeadLettered int           `json:"dead_lettered" yaml:"dead_lettered"`
	Deferred     int           `json:"deferred" yaml:"deferred"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Progress is reported after each processed action of a drain.
type Progress struct {
	Processed int
	Total     int
}

// Percent returns the processed share of the batch, 0-100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Manager implements Queue over the local store.
type Manager struct {
	store  *store.Store
	client api.Client
	net    Connectivity
	inv    Invalidator
	config *Config

	draining atomic.Bool
	newKey   func() string
	now      func() time.Time
}

// New creates a manager with default configuration.
func New(s *store.Store, client api.Client, net Connectivity, inv Invalidator) (*Manager, error) {
	return NewWithConfig(s, client, net, inv, DefaultConfig())
}

// NewWithConfig creates a manager with custom configuration.
// inv may be nil when nothing caches reads.
func NewWithConfig(s *store.Store, client api.Client, net Connectivity, inv Invalidator, config *Config) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("api client cannot be nil")
	}
	if net == nil {
		return nil, fmt.Errorf("connectivity source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Notifier == nil {
		config.Notifier = notify.Nop{}
	}

	return &Manager{
		store:  s,
		client: client,
		net:    net,
		inv:    inv,
		config: config,
		newKey: uuid.NewString,
		now:    time.Now,
	}, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// EnqueueOrExecute implements Queue.EnqueueOrExecute.
func (m *Manager) EnqueueOrExecute(ctx context.Context, mut actions.Mutation) (*Result, error) {
	if mut == nil {
		return nil, fmt.Errorf("mutation cannot be nil")
	}
	if err := mut.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", mut.Kind(), err)
	}

	key := m.newKey()

	if m.net.IsOnline() {
		data, err := mut.Execute(ctx, m.client, key)
		if err == nil {
			m.invalidate(mut.Affected())
			return &Result{Data: data}, nil
		}
		if !api.IsConnectivity(err) {
			return nil, fmt.Errorf("%s failed: %w", mut.Kind(), err)
		}
		m.config.Logger.Printf("%s unreachable, queueing: %v", mut.Kind(), err)
	}

	return m.enqueue(ctx, mut, key)
}

func (m *Manager) enqueue(ctx context.Context, mut actions.Mutation, key string) (*Result, error) {
	kind, payload, err := actions.Encode(mut)
	if err != nil {
		return nil, err
	}

	a, err := m.store.AppendAction(ctx, store.PendingAction{
		Kind:                string(kind),
		Payload:             payload,
		AffectedCollections: mut.Affected(),
		IdempotencyKey:      key,
		EnqueuedAt:          m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s: %w", kind, err)
	}

	m.config.Logger.Printf("Queued action %d (%s)", a.ID, kind)
	m.notify(notify.Notification{
		Level:   notify.LevelInfo,
		Title:   "Saved offline",
		Message: "This change will sync when you're back online",
	})

	// Cached reads now carry a different overlay.
	m.invalidate(mut.Affected())

	return &Result{Queued: true, ActionID: a.ID}, nil
}

// SyncPendingActions implements Queue.SyncPendingActions.
func (m *Manager) SyncPendingActions(ctx context.Context) (*Report, error) {
	return m.SyncPendingActionsWithProgress(ctx, m.config.OnProgress)
}

// SyncPendingActionsWithProgress drains the queue reporting progress to fn
// instead of the configured callback.
func (m *Manager) SyncPendingActionsWithProgress(ctx context.Context, fn func(Progress)) (*Report, error) {
	if !m.net.IsOnline() {
		return &Report{}, ErrOffline
	}
	if !m.draining.CompareAndSwap(false, true) {
		return &Report{}, ErrDrainRunning
	}
	defer m.draining.Store(false)

	// The captured batch always runs to completion.
	ctx = context.WithoutCancel(ctx)
	start := m.now()

	batch, err := m.store.LoadUnsynced(ctx)
	if err != nil {
		return &Report{}, fmt.Errorf("failed to load queue: %w", err)
	}

	report := &Report{Total: len(batch)}
	if report.Total == 0 {
		return report, nil
	}

	m.config.Logger.Printf("Starting drain of %d actions", report.Total)
	m.notify(notify.Notification{
		Level:   notify.LevelInfo,
		Title:   "Syncing",
		Message: fmt.Sprintf("Syncing %d offline %s", report.Total, plural(report.Total, "change", "changes")),
	})

	unreachable := false
	for i, a := range batch {
		// Once the server is unreachable the rest of the batch waits, in
		// order, for the next drain.
		result := outcomeDeferred
		if !unreachable {
			result = m.replay(ctx, a)
		}
		switch result {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
		case outcomeDeadLettered:
			report.DeadLettered++
		case outcomeDeferred:
			report.Deferred++
			unreachable = true
		}

		if fn != nil {
			m.safeProgress(fn, Progress{Processed: i + 1, Total: report.Total})
		}
	}

	report.Duration = m.now().Sub(start)
	m.config.Logger.Printf("Drain complete: total=%d succeeded=%d failed=%d dead-lettered=%d deferred=%d",
		report.Total, report.Succeeded, report.Failed, report.DeadLettered, report.Deferred)
	m.notify(completionNotice(report))

	return report, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeDeadLettered
	outcomeDeferred
)

// replay processes one action of a drain.
func (m *Manager) replay(ctx context.Context, a store.PendingAction) outcome {
	if a.RetryCount >= m.config.MaxRetries {
		m.deadLetter(ctx, a, fmt.Sprintf("retry ceiling of %d reached", m.config.MaxRetries))
		return outcomeDeadLettered
	}

	mut, err := actions.Decode(actions.Kind(a.Kind), a.Payload)
	if err != nil {
		// An undecodable action can never succeed.
		m.deadLetter(ctx, a, err.Error())
		return outcomeDeadLettered
	}

	if _, err := mut.Execute(ctx, m.client, a.IdempotencyKey); err != nil {
		if api.IsConnectivity(err) {
			m.config.Logger.Printf("Action %d (%s) deferred, server unreachable: %v", a.ID, a.Kind, err)
			return outcomeDeferred
		}
		count, markErr := m.store.MarkAttempt(ctx, a.ID, m.now())
		if markErr != nil {
			m.config.Logger.Printf("WARNING: failed to record attempt for action %d: %v", a.ID, markErr)
		}
		m.config.Logger.Printf("Action %d (%s) failed (attempt %d): %v", a.ID, a.Kind, count, err)
		return outcomeFailed
	}

	if err := m.store.MarkSynced(ctx, a.ID); err != nil {
		m.config.Logger.Printf("WARNING: failed to mark action %d synced: %v", a.ID, err)
	}
	if err := m.store.DeleteAction(ctx, a.ID); err != nil {
		m.config.Logger.Printf("WARNING: failed to delete synced action %d: %v", a.ID, err)
	}
	m.invalidate(a.AffectedCollections)

	m.config.Logger.Printf("Synced action %d (%s)", a.ID, a.Kind)
	return outcomeSucceeded
}

func (m *Manager) deadLetter(ctx context.Context, a store.PendingAction, reason string) {
	m.config.Logger.Printf("Dead-lettering action %d (%s): %s", a.ID, a.Kind, reason)

	if m.config.DeadLetter != nil {
		if err := m.config.DeadLetter.DeadLetter(ctx, a, reason); err != nil {
			m.config.Logger.Printf("WARNING: dead-letter sink failed for action %d: %v", a.ID, err)
		}
	}
	if err := m.store.DeleteAction(ctx, a.ID); err != nil {
		m.config.Logger.Printf("WARNING: failed to delete dead-lettered action %d: %v", a.ID, err)
	}
}

// PendingCount implements Queue.PendingCount.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountUnsynced(ctx)
}

// PendingActions implements Queue.PendingActions.
func (m *Manager) PendingActions(ctx context.Context) ([]store.PendingAction, error) {
	return m.store.LoadUnsynced(ctx)
}

// PendingMutations implements Queue.PendingMutations. Actions that fail to
// decode are skipped here; the next drain dead-letters them.
func (m *Manager) PendingMutations(ctx context.Context, c schema.Collection) ([]actions.Mutation, error) {
	queued, err := m.store.LoadUnsynced(ctx)
	if err != nil {
		return nil, err
	}

	var out []actions.Mutation
	for _, a := range queued {
		mut, err := actions.Decode(actions.Kind(a.Kind), a.Payload)
		if err != nil {
			continue
		}
		if actions.AffectsCollection(mut, c) {
			out = append(out, mut)
		}
	}
	return out, nil
}

// ClearPending discards every queued action and returns how many were
// dropped. Cached reads of the affected collections are invalidated.
func (m *Manager) ClearPending(ctx context.Context) (int, error) {
	queued, err := m.store.LoadUnsynced(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.store.ClearActions(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range queued {
		m.invalidate(a.AffectedCollections)
	}
	return n, nil
}

func (m *Manager) invalidate(collections []schema.Collection) {
	if m.inv == nil || len(collections) == 0 {
		return
	}
	m.inv.Invalidate(collections...)
}

func (m *Manager) notify(n notify.Notification) {
	notify.Send(m.config.Notifier, n, m.config.Logger)
}

func (m *Manager) safeProgress(fn func(Progress), p Progress) {
	defer func() {
		if r := recover(); r != nil {
			m.config.Logger.Printf("progress callback panicked: %v", r)
		}
	}()
	fn(p)
}

func completionNotice(r *Report) notify.Notification {
	switch {
	case r.DeadLettered > 0:
		return notify.Notification{
			Level:   notify.LevelError,
			Title:   "Sync failed",
			Message: fmt.Sprintf("%d %s failed to sync", r.DeadLettered, plural(r.DeadLettered, "action", "actions")),
		}
	case r.Failed > 0 || r.Deferred > 0:
		return notify.Notification{
			Level:   notify.LevelWarning,
			Title:   "Partially synced",
			Message: fmt.Sprintf("%d of %d changes synced; %d will be retried", r.Succeeded, r.Total, r.Failed+r.Deferred),
		}
	default:
		return notify.Notification{
			Level:   notify.LevelSuccess,
			Title:   "Synced",
			Message: fmt.Sprintf("%d offline %s synced", r.Succeeded, plural(r.Succeeded, "change", "changes")),
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
