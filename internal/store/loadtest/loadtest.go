// Package loadtest measures local store read latency under concurrent access.
//
// It populates a store with a realistic task/project mix and runs N
// concurrent readers issuing the filtered reads the query layer performs
// while offline, optionally alongside a writer that refreshes records and
// appends pending actions the way the sync manager does.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// TestStore is a populated store used for load testing.
type TestStore struct {
	Store      *store.Store
	TaskIDs    []string
	ProjectIDs []string
	Assignees  []string
	TotalTasks int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestStore creates a store at path populated with numTasks tasks
// spread across numProjects projects.
func CreateTestStore(path string, numTasks, numProjects int) (*TestStore, error) {
	if numProjects < 1 {
		numProjects = 1
	}

	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Concurrent readers each hold a connection
	s.RawDB().SetMaxOpenConns(64)
	s.RawDB().SetMaxIdleConns(16)

	ts := &TestStore{
		Store:      s,
		TaskIDs:    make([]string, 0, numTasks),
		Assignees:  []string{"alice", "bob", "carol", "dave"},
		TotalTasks: numTasks,
	}

	ctx := context.Background()

	projects := generateProjects(numProjects, ts.Assignees)
	precs, err := schema.ToRecords(projects)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Refresh(ctx, schema.CollectionProjects, precs...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to insert projects: %w", err)
	}
	for _, p := range projects {
		ts.ProjectIDs = append(ts.ProjectIDs, p.ID)
	}

	tasks := generateTasks(numTasks, ts.ProjectIDs, ts.Assignees)
	trecs, err := schema.ToRecords(tasks)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Refresh(ctx, schema.CollectionTasks, trecs...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to insert tasks: %w", err)
	}
	for _, task := range tasks {
		ts.TaskIDs = append(ts.TaskIDs, task.ID)
	}

	return ts, nil
}

// Close closes the test store.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// Filters returns the filter mix readers cycle through.
func (ts *TestStore) Filters() []schema.Filter {
	filters := []schema.Filter{
		{},
		{Status: schema.StatusOpen},
		{Search: "deploy"},
	}
	for i, id := range ts.ProjectIDs {
		if i >= 3 {
			break
		}
		filters = append(filters, schema.Filter{ProjectID: id, Status: schema.StatusInProgress})
	}
	for _, a := range ts.Assignees {
		filters = append(filters, schema.Filter{Assignee: a})
	}
	return filters
}

// RunConcurrentQueries runs numReaders concurrent readers, each performing
// queriesPerReader filtered reads, and returns aggregated latency.
func (ts *TestStore) RunConcurrentQueries(numReaders, queriesPerReader int) (*LatencyStats, error) {
	filters := ts.Filters()

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerReader)
			ctx := context.Background()

			for j := 0; j < queriesPerReader; j++ {
				f := filters[(readerID+j)%len(filters)]
				start := time.Now()
				_, err := ts.query(ctx, f)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for range errorsChan {
		errorCount++
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentAccess runs readers against a concurrent writer for the
// given duration and checks every read returns consistent records.
func (ts *TestStore) VerifyConcurrentAccess(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)
	filters := ts.Filters()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(7))
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			id := ts.TaskIDs[rng.Intn(len(ts.TaskIDs))]
			task := schema.Task{
				ID:        id,
				Title:     fmt.Sprintf("rewritten %d", n),
				Status:    schema.TaskStatuses[n%len(schema.TaskStatuses)],
				ProjectID: ts.ProjectIDs[n%len(ts.ProjectIDs)],
				UpdatedAt: time.Now().UTC(),
			}
			rec, err := task.ToRecord()
			if err == nil {
				err = ts.Store.Put(ctx, schema.CollectionTasks, rec)
			}
			if err == nil {
				_, err = ts.Store.AppendAction(ctx, store.PendingAction{Kind: "task.update", IdempotencyKey: fmt.Sprintf("lt-%d", n)})
			}
			if err != nil && ctx.Err() == nil {
				errorsChan <- fmt.Errorf("writer failed: %w", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			for j := 0; ; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				f := filters[(readerID+j)%len(filters)]
				recs, err := ts.query(ctx, f)
				if err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("reader %d failed: %w", readerID, err)
					return
				}
				for _, rec := range recs {
					if rec.ID == "" {
						errorsChan <- fmt.Errorf("reader %d found record with empty ID", readerID)
						return
					}
					if !f.Match(&rec) {
						errorsChan <- fmt.Errorf("reader %d got %s outside filter %q", readerID, rec.ID, f.String())
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns statistics about the test store.
func (ts *TestStore) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_tasks":    ts.TotalTasks,
		"total_projects": len(ts.ProjectIDs),
		"assignees":      len(ts.Assignees),
	}
}

// query performs the same read the query layer does offline.
func (ts *TestStore) query(ctx context.Context, f schema.Filter) ([]schema.Record, error) {
	recs, err := ts.Store.GetAll(ctx, schema.CollectionTasks, f.IndexQuery())
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for i := range recs {
		if f.Match(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	return out, nil
}

func generateProjects(count int, owners []string) []schema.Project {
	projects := make([]schema.Project, count)
	base := time.Now().Add(-90 * 24 * time.Hour)
	for i := range projects {
		created := base.Add(time.Duration(i) * time.Hour)
		projects[i] = schema.Project{
			ID:        fmt.Sprintf("proj-%03d", i),
			Name:      fmt.Sprintf("Project %d", i),
			Status:    "active",
			OwnerID:   owners[i%len(owners)],
			CreatedAt: created,
			UpdatedAt: created,
		}
	}
	return projects
}

// generateTasks creates tasks with a realistic status and priority mix.
func generateTasks(count int, projectIDs, assignees []string) []schema.Task {
	tasks := make([]schema.Task, count)

	// Priority distribution: weighted toward P2
	priorities := []int{0, 1, 2, 2, 2, 2, 2, 3, 3, 4}
	// Status distribution: mostly open, a third done
	statuses := []string{
		schema.StatusOpen, schema.StatusOpen, schema.StatusInProgress,
		schema.StatusBlocked, schema.StatusDone, schema.StatusDone,
	}
	verbs := []string{"deploy", "review", "design", "fix", "document"}

	baseTime := time.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < count; i++ {
		createdAt := baseTime.Add(time.Duration(i) * time.Minute)
		verb := verbs[i%len(verbs)]

		tasks[i] = schema.Task{
			ID:          fmt.Sprintf("task-%05d", i),
			Title:       fmt.Sprintf("%s item %d", verb, i),
			Description: fmt.Sprintf("Load test task (priority P%d)", priorities[i%len(priorities)]),
			Status:      statuses[i%len(statuses)],
			Priority:    priorities[i%len(priorities)],
			ProjectID:   projectIDs[i%len(projectIDs)],
			Assignee:    assignees[(i/3)%len(assignees)],
			Tags:        []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}
	}

	return tasks
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes formatted latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
