package netstatus

import (
	"io"
	"log"
	"os"
	"sort"
	"sync"
)

// Detector is the single source of truth for "are we online".
type Detector struct {
	mu         sync.Mutex
	online     bool
	wasOffline bool
	nextID     int
	subs       map[int]func(online bool)
	logger     *log.Logger
}

// New creates a detector seeded with the host's current connectivity.
func New(initial bool, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[netstatus] ", log.LstdFlags)
	}
	return &Detector{
		online: initial,
		subs:   make(map[int]func(bool)),
		logger: logger,
	}
}

// NewSilent creates a detector that discards its log output.
func NewSilent(initial bool) *Detector {
	return New(initial, log.New(io.Discard, "", 0))
}

// IsOnline reports the last known connectivity.
func (d *Detector) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// Notify delivers a host connectivity report. It returns true if the
// report changed state. Subscribers run synchronously, in subscription
// order, only on a change.
func (d *Detector) Notify(online bool) bool {
	d.mu.Lock()
	if d.online == online {
		d.mu.Unlock()
		return false
	}
	d.online = online
	if online {
		d.wasOffline = true
	}
	subs := d.snapshotLocked()
	d.mu.Unlock()

	if online {
		d.logger.Printf("connectivity restored")
	} else {
		d.logger.Printf("connectivity lost")
	}

	for _, fn := range subs {
		d.deliver(fn, online)
	}
	return true
}

// ConsumeWasOffline reports whether an offline-to-online edge happened
// since the last call, and clears the flag.
func (d *Detector) ConsumeWasOffline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.wasOffline
	d.wasOffline = false
	return was
}

// Subscribe registers fn for state changes. The returned function removes
// the subscription and is safe to call more than once.
func (d *Detector) Subscribe(fn func(online bool)) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Detector) snapshotLocked() []func(bool) {
	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	// Map iteration is random; deliver in subscription order.
	sort.Ints(ids)
	out := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.subs[id])
	}
	return out
}

func (d *Detector) deliver(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("subscriber panicked: %v", r)
		}
	}()
	fn(online)
}
