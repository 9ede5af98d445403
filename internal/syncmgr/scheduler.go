package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Detector is the connectivity source the scheduler follows.
type Detector interface {
	IsOnline() bool
	ConsumeWasOffline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Scheduler drives the manager from connectivity changes:
//  1. On an offline-to-online edge it drains the queue after DrainDelay
//  2. On start, if online with a non-empty queue, it drains after DrainDelay
//  3. Every CountInterval it reports the pending count to an observer
type Scheduler struct {
	manager  *Manager
	detector Detector
	onCount  func(int)

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. onCount may be nil; it is called from
// the scheduler's goroutines and must be safe for concurrent use.
func NewScheduler(m *Manager, d Detector, onCount func(int)) (*Scheduler, error) {
	if m == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if d == nil {
		return nil, fmt.Errorf("detector cannot be nil")
	}
	return &Scheduler{
		manager:  m,
		detector: d,
		onCount:  onCount,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start launches the scheduler's goroutines and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	logger := s.manager.config.Logger
	logger.Println("Starting scheduler")

	unsubscribe := s.detector.Subscribe(func(online bool) {
		if online && s.detector.ConsumeWasOffline() {
			s.kick()
		}
	})

	if s.detector.IsOnline() {
		if n, err := s.manager.PendingCount(ctx); err == nil && n > 0 {
			logger.Printf("%d actions pending from a previous session", n)
			s.kick()
		}
	}

	s.wg.Add(2)
	go func() {
		defer unsubscribe()
		s.drainLoop(ctx)
	}()
	go s.countLoop(ctx)

	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop shuts the scheduler down and waits for its goroutines. A drain in
// progress runs to completion first.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.manager.config.Logger.Println("Scheduler stopped")
	return nil
}

// kick requests a delayed drain. Requests coalesce while one is pending.
func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// drainLoop waits for kicks and drains after the configured delay.
func (s *Scheduler) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.trigger:
			timer := time.NewTimer(s.manager.config.DrainDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	logger := s.manager.config.Logger

	report, err := s.manager.SyncPendingActions(ctx)
	switch {
	case errors.Is(err, ErrOffline):
		logger.Println("Skipping drain: offline again")
	case errors.Is(err, ErrDrainRunning):
		logger.Println("Skipping drain: already running")
	case err != nil:
		logger.Printf("Drain failed: %v", err)
	case report.Total > 0:
		s.reportCount(ctx)
	}
}

// countLoop periodically reports the pending count.
func (s *Scheduler) countLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.manager.config.CountInterval
	if interval <= 0 || s.onCount == nil {
		return
	}

	s.reportCount(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportCount(ctx)
		}
	}
}

func (s *Scheduler) reportCount(ctx context.Context) {
	if s.onCount == nil {
		return
	}
	n, err := s.manager.PendingCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.manager.config.Logger.Printf("Error counting pending actions: %v", err)
		}
		return
	}
	s.onCount(n)
}
