package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

type fakeNet struct{ online bool }

func (n *fakeNet) IsOnline() bool { return n.online }

type fakeOverlay struct {
	byCollection map[schema.Collection][]actions.Mutation
}

func (o *fakeOverlay) PendingMutations(ctx context.Context, c schema.Collection) ([]actions.Mutation, error) {
	return o.byCollection[c], nil
}

func newTestResolver(t *testing.T, online bool) (*Resolver, *store.Store, *fakeNet) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	net := &fakeNet{online: online}
	r := NewResolver(s, net, Config{FreshFor: time.Minute})
	return r, s, net
}

func records(t *testing.T, tasks ...schema.Task) []schema.Record {
	t.Helper()
	recs, err := schema.ToRecords(tasks)
	if err != nil {
		t.Fatalf("ToRecords() failed: %v", err)
	}
	return recs
}

func ids(recs []schema.Record) map[string]bool {
	out := make(map[string]bool)
	for _, rec := range recs {
		out[rec.ID] = true
	}
	return out
}

// countingFetch returns recs and counts calls.
func countingFetch(recs []schema.Record, err error, calls *int) FetchFunc {
	return func(ctx context.Context) ([]schema.Record, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		return recs, nil
	}
}

var seed = []schema.Task{
	{ID: "t-1", Title: "Write launch docs", Status: schema.StatusOpen, Assignee: "alice", ProjectID: "p-1"},
	{ID: "t-2", Title: "Fix login bug", Status: schema.StatusDone, Assignee: "alice", ProjectID: "p-1"},
	{ID: "t-3", Title: "Review DOCS", Status: schema.StatusOpen, Assignee: "bob", ProjectID: "p-2"},
}

func TestResolve_OnlineFetchesAndCaches(t *testing.T) {
	r, s, _ := newTestResolver(t, true)
	ctx := context.Background()

	calls := 0
	key := Key{Collection: schema.CollectionTasks}
	res, err := r.Resolve(ctx, key, countingFetch(records(t, seed...), nil, &calls))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.Source != SourceNetwork {
		t.Errorf("Source = %s, want network", res.Source)
	}
	if len(res.Records) != 3 {
		t.Errorf("got %d records, want 3", len(res.Records))
	}

	n, err := s.Count(ctx, schema.CollectionTasks)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("cached %d records, want 3", n)
	}

	// Within the freshness window the cache answers.
	res, err = r.Resolve(ctx, key, countingFetch(nil, nil, &calls))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
	if res.Source != SourceCache || len(res.Records) != 3 {
		t.Errorf("second read = %s with %d records, want cache with 3", res.Source, len(res.Records))
	}
}

func TestResolve_StaleAfterWindow(t *testing.T) {
	r, _, _ := newTestResolver(t, true)
	ctx := context.Background()

	now := time.Now()
	r.now = func() time.Time { return now }

	calls := 0
	key := Key{Collection: schema.CollectionTasks}
	fetch := countingFetch(records(t, seed...), nil, &calls)

	if _, err := r.Resolve(ctx, key, fetch); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := r.Resolve(ctx, key, fetch); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("fetch called %d times, want 2 after window elapsed", calls)
	}
}

func TestResolve_OfflineNeverFetches(t *testing.T) {
	r, s, _ := newTestResolver(t, false)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	calls := 0
	res, err := r.Resolve(ctx, Key{Collection: schema.CollectionTasks}, countingFetch(nil, nil, &calls))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("fetch called %d times while offline", calls)
	}
	if res.Source != SourceCache || len(res.Records) != 3 {
		t.Errorf("got %s with %d records, want cache with 3", res.Source, len(res.Records))
	}
	if res.LastRefreshedAt.IsZero() {
		t.Error("LastRefreshedAt is zero for a refreshed collection")
	}
}

func TestResolve_OfflineFilterMirrorsServer(t *testing.T) {
	r, s, _ := newTestResolver(t, false)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	tests := []struct {
		name   string
		filter schema.Filter
		want   []string
	}{
		{"status", schema.Filter{Status: schema.StatusOpen}, []string{"t-1", "t-3"}},
		{"assignee", schema.Filter{Assignee: "alice"}, []string{"t-1", "t-2"}},
		{"assignee and status", schema.Filter{Assignee: "alice", Status: schema.StatusOpen}, []string{"t-1"}},
		{"search is case-insensitive", schema.Filter{Search: "docs"}, []string{"t-1", "t-3"}},
		{"project and search", schema.Filter{ProjectID: "p-1", Search: "LOGIN"}, []string{"t-2"}},
		{"no match", schema.Filter{Assignee: "carol"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, Key{Collection: schema.CollectionTasks, Filter: tt.filter}, nil)
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}
			got := ids(res.Records)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("missing %s in %v", id, got)
				}
			}
		})
	}
}

func TestResolve_ConnectivityFailureFallsBack(t *testing.T) {
	r, s, _ := newTestResolver(t, true)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	calls := 0
	unreachable := &api.UnreachableError{Op: "GET /api/tasks", Err: errors.New("connection refused")}
	res, err := r.Resolve(ctx, Key{Collection: schema.CollectionTasks}, countingFetch(nil, unreachable, &calls))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.Source != SourceCache {
		t.Errorf("Source = %s, want cache", res.Source)
	}
	if !errors.Is(res.FallbackErr, api.ErrUnreachable) {
		t.Errorf("FallbackErr = %v, want ErrUnreachable", res.FallbackErr)
	}
}

func TestResolve_RejectionPropagates(t *testing.T) {
	r, s, _ := newTestResolver(t, true)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	calls := 0
	forbidden := fmt.Errorf("GET /api/tasks: %w", &api.APIError{StatusCode: 403, Message: "forbidden"})
	res, err := r.Resolve(ctx, Key{Collection: schema.CollectionTasks}, countingFetch(nil, forbidden, &calls))
	if err == nil {
		t.Fatalf("Resolve() = %+v, want 403 error", res)
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 403 {
		t.Errorf("error = %v, want wrapped 403", err)
	}
}

func TestResolve_FullReplaceOfMatchingRecords(t *testing.T) {
	r, s, _ := newTestResolver(t, true)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	// The server no longer reports t-1 for alice's open tasks.
	calls := 0
	key := Key{Collection: schema.CollectionTasks, Filter: schema.Filter{Assignee: "alice", Status: schema.StatusOpen}}
	if _, err := r.Resolve(ctx, key, countingFetch(nil, nil, &calls)); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	got, err := s.Get(ctx, schema.CollectionTasks, "t-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("t-1 survived a full replace that omitted it")
	}
	if rec, _ := s.Get(ctx, schema.CollectionTasks, "t-2"); rec == nil {
		t.Error("t-2 (outside the filter) was removed")
	}
}

func TestResolve_InvalidateForcesRefetch(t *testing.T) {
	r, _, _ := newTestResolver(t, true)
	ctx := context.Background()

	var notified []schema.Collection
	unsubscribe := r.Subscribe(schema.CollectionTasks, func(c schema.Collection) {
		notified = append(notified, c)
	})
	defer unsubscribe()

	calls := 0
	key := Key{Collection: schema.CollectionTasks}
	fetch := countingFetch(records(t, seed...), nil, &calls)

	if _, err := r.Resolve(ctx, key, fetch); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if !r.IsFresh(key) {
		t.Fatal("key not fresh after network read")
	}

	r.Invalidate(schema.CollectionTasks)

	if r.IsFresh(key) {
		t.Error("key still fresh after Invalidate")
	}
	if len(notified) != 1 || notified[0] != schema.CollectionTasks {
		t.Errorf("notified = %v, want [tasks]", notified)
	}
	if _, err := r.Resolve(ctx, key, fetch); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("fetch called %d times, want 2", calls)
	}
}

func TestResolve_OverlayIsProvisional(t *testing.T) {
	r, s, _ := newTestResolver(t, false)
	ctx := context.Background()

	if err := s.Refresh(ctx, schema.CollectionTasks, records(t, seed...)...); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	carol := "carol"
	r.SetOverlay(&fakeOverlay{byCollection: map[schema.Collection][]actions.Mutation{
		schema.CollectionTasks: {
			&actions.CreateTask{Task: schema.Task{ID: "t-4", Title: "Offline task", Assignee: "carol"}},
			&actions.UpdateTask{ID: "t-3", Patch: schema.TaskPatch{Assignee: &carol}},
		},
	}})

	res, err := r.Resolve(ctx, Key{Collection: schema.CollectionTasks, Filter: schema.Filter{Assignee: "carol"}}, nil)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if !res.Provisional {
		t.Error("Provisional = false with queued mutations")
	}
	got := ids(res.Records)
	if len(got) != 2 || !got["t-3"] || !got["t-4"] {
		t.Errorf("got %v, want t-3 and t-4", got)
	}

	// The overlay never reaches the store.
	if rec, _ := s.Get(ctx, schema.CollectionTasks, "t-4"); rec != nil {
		t.Error("optimistic record was written to the store")
	}
}

func TestKey_String(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{Key{Collection: schema.CollectionTasks}, "tasks"},
		{Key{Collection: schema.CollectionTasks, Filter: schema.Filter{Status: "open"}}, "tasks?status=open"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestBus_PanicDoesNotStopDelivery(t *testing.T) {
	b := NewBus(nil)

	second := false
	b.Subscribe(schema.CollectionProjects, func(schema.Collection) { panic("boom") })
	unsubscribe := b.Subscribe(schema.CollectionProjects, func(schema.Collection) { second = true })

	b.Publish(schema.CollectionProjects)
	if !second {
		t.Error("second subscriber not called after first panicked")
	}

	unsubscribe()
	if n := b.Subscribers(schema.CollectionProjects); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

func TestResolve_SameOrderOnlineAndOffline(t *testing.T) {
	r, _, net := newTestResolver(t, true)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// The server answers oldest first.
	recs := records(t,
		schema.Task{ID: "t-b", Title: "Oldest", Status: schema.StatusOpen, UpdatedAt: base},
		schema.Task{ID: "t-c", Title: "Tied", Status: schema.StatusOpen, UpdatedAt: base.Add(time.Hour)},
		schema.Task{ID: "t-a", Title: "Tied too", Status: schema.StatusOpen, UpdatedAt: base.Add(time.Hour)},
		schema.Task{ID: "t-d", Title: "Newest", Status: schema.StatusOpen, UpdatedAt: base.Add(2 * time.Hour)},
	)

	key := Key{Collection: schema.CollectionTasks, Filter: schema.Filter{Status: schema.StatusOpen}}
	calls := 0
	online, err := r.Resolve(ctx, key, countingFetch(recs, nil, &calls))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	net.online = false
	offline, err := r.Resolve(ctx, key, nil)
	if err != nil {
		t.Fatalf("offline Resolve() failed: %v", err)
	}

	order := func(res *Result) []string {
		var out []string
		for _, rec := range res.Records {
			out = append(out, rec.ID)
		}
		return out
	}
	want := []string{"t-d", "t-a", "t-c", "t-b"}
	if got := order(online); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("online order = %v, want %v", got, want)
	}
	if got := order(offline); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("offline order = %v, want %v", got, want)
	}
}
