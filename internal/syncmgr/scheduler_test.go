package syncmgr

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/netstatus"
	"github.com/mschirtzinger/tasksync/internal/store"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func newScheduledManager(t *testing.T, d *netstatus.Detector) (*Manager, *fakeAPI) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)
	config.DrainDelay = 10 * time.Millisecond
	config.CountInterval = 20 * time.Millisecond

	client := &fakeAPI{failIDs: make(map[string]error)}
	m, err := NewWithConfig(s, client, d, nil, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return m, client
}

func TestScheduler_DrainsOnReconnect(t *testing.T) {
	d := netstatus.NewSilent(false)
	m, client := newScheduledManager(t, d)
	ctx := context.Background()

	if _, err := m.EnqueueOrExecute(ctx, createTask("t-1")); err != nil {
		t.Fatalf("EnqueueOrExecute() failed: %v", err)
	}

	sched, err := NewScheduler(m, d, nil)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	d.Notify(true)

	ok := waitFor(t, 2*time.Second, func() bool {
		n, _ := m.PendingCount(ctx)
		return n == 0
	})
	if !ok {
		t.Fatal("queue not drained after reconnect")
	}
	if calls := client.Calls(); len(calls) != 1 || calls[0] != "create:t-1" {
		t.Errorf("calls = %v", calls)
	}
}

func TestScheduler_DrainsLeftoverQueueOnStart(t *testing.T) {
	d := netstatus.NewSilent(false)
	m, client := newScheduledManager(t, d)
	ctx := context.Background()

	if _, err := m.EnqueueOrExecute(ctx, createTask("t-1")); err != nil {
		t.Fatalf("EnqueueOrExecute() failed: %v", err)
	}

	// Online at startup without a preceding offline edge.
	d.Notify(true)
	d.ConsumeWasOffline()

	sched, err := NewScheduler(m, d, nil)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	ok := waitFor(t, 2*time.Second, func() bool {
		return len(client.Calls()) == 1
	})
	if !ok {
		t.Fatal("leftover queue not drained on start")
	}
}

func TestScheduler_NoDrainWithoutEdge(t *testing.T) {
	d := netstatus.NewSilent(true)
	m, client := newScheduledManager(t, d)
	ctx := context.Background()

	sched, err := NewScheduler(m, d, nil)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	// A repeated online report is not a transition.
	d.Notify(true)
	time.Sleep(50 * time.Millisecond)

	if calls := client.Calls(); len(calls) != 0 {
		t.Errorf("unexpected API calls: %v", calls)
	}
}

func TestScheduler_ReportsCount(t *testing.T) {
	d := netstatus.NewSilent(false)
	m, _ := newScheduledManager(t, d)
	ctx := context.Background()

	for _, id := range []string{"t-1", "t-2"} {
		if _, err := m.EnqueueOrExecute(ctx, createTask(id)); err != nil {
			t.Fatalf("EnqueueOrExecute() failed: %v", err)
		}
	}

	var last atomic.Int64
	last.Store(-1)
	sched, err := NewScheduler(m, d, func(n int) { last.Store(int64(n)) })
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	if !waitFor(t, time.Second, func() bool { return last.Load() == 2 }) {
		t.Errorf("last reported count = %d, want 2", last.Load())
	}
}

func TestScheduler_StartStop(t *testing.T) {
	d := netstatus.NewSilent(true)
	m, _ := newScheduledManager(t, d)

	sched, err := NewScheduler(m, d, nil)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := sched.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := sched.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if err := sched.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	d := netstatus.NewSilent(true)
	m, _ := newScheduledManager(t, d)

	sched, err := NewScheduler(m, d, nil)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewScheduler_RequiresArguments(t *testing.T) {
	if _, err := NewScheduler(nil, netstatus.NewSilent(true), nil); err == nil {
		t.Error("NewScheduler(nil manager) should fail")
	}
	m, _ := newScheduledManager(t, netstatus.NewSilent(true))
	if _, err := NewScheduler(m, nil, nil); err == nil {
		t.Error("NewScheduler(nil detector) should fail")
	}
}
