// Package query resolves reads against the network or the local cache.
//
// Resolve decides per call where data comes from:
//
//  1. Online with a fresh cached result for the key: serve the cache.
//  2. Online otherwise: call the fetch function, replace the matching
//     cached records with the response, and return it.
//  3. Offline, or the fetch failed for connectivity reasons: read the
//     cache through the most selective index and apply the same filter
//     semantics the server uses.
//
// Any other fetch failure (403, 422, ...) is returned to the caller and
// never masked by cached data. Offline reads never call the fetch function.
//
// Queued mutations are layered over every result through their optimistic
// apply; such results are marked Provisional. The overlay is never written
// back to the store.
package query

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// DefaultFreshFor is how long an online cached result is served before a
// network refresh is forced.
const DefaultFreshFor = 5 * time.Minute

// Source says where a result came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
)

// Key identifies a cached query.
type Key struct {
	Collection schema.Collection
	Filter     schema.Filter
}

// String returns the cache key, e.g. "tasks?status=open".
func (k Key) String() string {
	if k.Filter.IsZero() {
		return string(k.Collection)
	}
	return string(k.Collection) + "?" + k.Filter.String()
}

// FetchFunc performs the network read for a key.
type FetchFunc func(ctx context.Context) ([]schema.Record, error)

// Result is a resolved read.
type Result struct {
	Key         Key
	Records     []schema.Record
	Source      Source
	Provisional bool // includes optimistic effects of queued mutations

	// LastRefreshedAt is the collection's last network refresh; zero if
	// it was never refreshed.
	LastRefreshedAt time.Time

	// FallbackErr is the connectivity error that forced a cache read.
	FallbackErr error
}

// Connectivity reports the host's network state.
type Connectivity interface {
	IsOnline() bool
}

// Overlay supplies the queued mutations to layer over reads, in queue
// order.
type Overlay interface {
	PendingMutations(ctx context.Context, c schema.Collection) ([]actions.Mutation, error)
}

// Config contains configuration for the Resolver.
type Config struct {
	// FreshFor is how long an online cached result counts as fresh.
	FreshFor time.Duration

	// Logger for resolver events
	Logger *log.Logger
}

// DefaultConfig returns a default resolver configuration.
func DefaultConfig() Config {
	return Config{
		FreshFor: DefaultFreshFor,
		Logger:   log.New(os.Stderr, "[query] ", log.LstdFlags),
	}
}

// Resolver implements the read path.
type Resolver struct {
	store  *store.Store
	net    Connectivity
	config Config
	bus    *Bus
	now    func() time.Time

	mu      sync.Mutex
	overlay Overlay
	fetched map[Key]time.Time
}

// NewResolver creates a resolver over the given store.
func NewResolver(s *store.Store, net Connectivity, config Config) *Resolver {
	if config.FreshFor <= 0 {
		config.FreshFor = DefaultFreshFor
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		store:   s,
		net:     net,
		config:  config,
		bus:     NewBus(config.Logger),
		now:     time.Now,
		fetched: make(map[Key]time.Time),
	}
}

// SetOverlay installs the source of queued mutations.
func (r *Resolver) SetOverlay(o Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = o
}

// Resolve returns the data for key, from the network or the cache.
func (r *Resolver) Resolve(ctx context.Context, key Key, fetch FetchFunc) (*Result, error) {
	if !key.Collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", key.Collection)
	}

	if !r.net.IsOnline() {
		return r.fromCache(ctx, key, nil)
	}

	if r.isFresh(key) {
		return r.fromCache(ctx, key, nil)
	}

	if fetch == nil {
		return nil, fmt.Errorf("no fetch function for %s", key)
	}

	recs, err := fetch(ctx)
	if err != nil {
		if !api.IsConnectivity(err) {
			return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		r.config.Logger.Printf("fetch %s failed, serving cache: %v", key, err)
		return r.fromCache(ctx, key, err)
	}

	return r.fromNetwork(ctx, key, recs)
}

// Invalidate marks every cached query of the given collections stale and
// notifies subscribers.
func (r *Resolver) Invalidate(collections ...schema.Collection) {
	r.mu.Lock()
	for k := range r.fetched {
		for _, c := range collections {
			if k.Collection == c {
				delete(r.fetched, k)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, c := range collections {
		r.bus.Publish(c)
	}
}

// Subscribe registers fn for invalidations of a collection.
func (r *Resolver) Subscribe(c schema.Collection, fn func(schema.Collection)) (unsubscribe func()) {
	return r.bus.Subscribe(c, fn)
}

// IsFresh reports whether key would be served from cache while online.
func (r *Resolver) IsFresh(key Key) bool {
	return r.isFresh(key)
}

func (r *Resolver) isFresh(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.fetched[key]
	return ok && r.now().Sub(at) < r.config.FreshFor
}

func (r *Resolver) fromNetwork(ctx context.Context, key Key, recs []schema.Record) (*Result, error) {
	for i := range recs {
		if recs[i].Collection == "" {
			recs[i].Collection = key.Collection
		}
	}

	if err := r.store.ReplaceMatching(ctx, key.Collection, key.Filter.IndexQuery(), key.Filter.Match, recs...); err != nil {
		// The response is still authoritative; only the cache missed it.
		r.config.Logger.Printf("failed to cache %s: %v", key, err)
	} else {
		r.mu.Lock()
		r.fetched[key] = r.now()
		r.mu.Unlock()
	}

	result := &Result{
		Key:             key,
		Records:         recs,
		Source:          SourceNetwork,
		LastRefreshedAt: r.now(),
	}

	pending, err := r.pending(ctx, key.Collection)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		result.Records = filterRecords(applyOverlay(key.Collection, recs, pending), key.Filter)
		result.Provisional = true
	}
	sortRecords(result.Records)

	return result, nil
}

func (r *Resolver) fromCache(ctx context.Context, key Key, fallbackErr error) (*Result, error) {
	pending, err := r.pending(ctx, key.Collection)
	if err != nil {
		return nil, err
	}

	// A queued mutation can move a record into the filter's index bucket,
	// so provisional reads scan the whole collection.
	iq := key.Filter.IndexQuery()
	if len(pending) > 0 {
		iq = schema.IndexQuery{}
	}

	recs, err := r.store.GetAll(ctx, key.Collection, iq)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached %s: %w", key, err)
	}

	if len(pending) > 0 {
		recs = applyOverlay(key.Collection, recs, pending)
	}
	recs = filterRecords(recs, key.Filter)
	sortRecords(recs)

	result := &Result{
		Key:         key,
		Records:     recs,
		Source:      SourceCache,
		Provisional: len(pending) > 0,
		FallbackErr: fallbackErr,
	}

	meta, err := r.store.SyncMetadata(ctx, key.Collection)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		result.LastRefreshedAt = meta.LastRefreshedAt
	}

	return result, nil
}

func (r *Resolver) pending(ctx context.Context, c schema.Collection) ([]actions.Mutation, error) {
	r.mu.Lock()
	overlay := r.overlay
	r.mu.Unlock()

	if overlay == nil {
		return nil, nil
	}
	ms, err := overlay.PendingMutations(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to load queued mutations for %s: %w", c, err)
	}
	return ms, nil
}

func applyOverlay(c schema.Collection, recs []schema.Record, pending []actions.Mutation) []schema.Record {
	for _, m := range pending {
		recs = m.Optimistic(c, recs)
	}
	return recs
}

func filterRecords(recs []schema.Record, f schema.Filter) []schema.Record {
	if f.IsZero() {
		return recs
	}
	out := make([]schema.Record, 0, len(recs))
	for i := range recs {
		if f.Match(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	return out
}

// sortRecords orders by most recently updated, then ID, matching GetAll.
func sortRecords(recs []schema.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
