package query

import (
	"log"
	"sort"
	"sync"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Bus fans collection invalidations out to subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[schema.Collection]map[int]func(schema.Collection)
	logger *log.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *log.Logger) *Bus {
	return &Bus{
		subs:   make(map[schema.Collection]map[int]func(schema.Collection)),
		logger: logger,
	}
}

// Subscribe registers fn for invalidations of a collection. The returned
// function removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(c schema.Collection, fn func(schema.Collection)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[c] == nil {
		b.subs[c] = make(map[int]func(schema.Collection))
	}
	b.subs[c][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[c], id)
		if len(b.subs[c]) == 0 {
			delete(b.subs, c)
		}
	}
}

// Publish calls every subscriber of c in subscription order. A panicking
// subscriber is logged and does not stop delivery.
func (b *Bus) Publish(c schema.Collection) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs[c]))
	for id := range b.subs[c] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(schema.Collection), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[c][id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.deliver(fn, c)
	}
}

// Subscribers returns the number of subscribers for c.
func (b *Bus) Subscribers(c schema.Collection) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[c])
}

func (b *Bus) deliver(fn func(schema.Collection), c schema.Collection) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Printf("invalidation subscriber for %s panicked: %v", c, r)
		}
	}()
	fn(c)
}
