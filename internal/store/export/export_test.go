package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now().UTC()
	tasks := []schema.Task{
		{ID: "t-1", Title: "Write docs", Status: schema.StatusOpen, ProjectID: "p-1", UpdatedAt: now},
		{ID: "t-2", Title: "Ship it", Status: schema.StatusDone, ProjectID: "p-1", UpdatedAt: now},
	}
	recs, err := schema.ToRecords(tasks)
	if err != nil {
		t.Fatalf("ToRecords() failed: %v", err)
	}
	if err := s.Put(context.Background(), schema.CollectionTasks, recs...); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	prec, err := schema.Project{ID: "p-1", Name: "Launch", UpdatedAt: now}.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord() failed: %v", err)
	}
	if err := s.Put(context.Background(), schema.CollectionProjects, prec); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	return s
}

func TestWriteJSONL(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	result, err := WriteJSONL(context.Background(), s, nil, &buf)
	if err != nil {
		t.Fatalf("WriteJSONL() failed: %v", err)
	}

	if result.Records != 3 {
		t.Errorf("Records = %d, want 3", result.Records)
	}
	if result.PerCollection[schema.CollectionTasks] != 2 {
		t.Errorf("PerCollection[tasks] = %d, want 2", result.PerCollection[schema.CollectionTasks])
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("got %d lines, want 3", len(lines))
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := seededStore(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "exports", "cache.jsonl")

	if _, err := Export(ctx, src, Options{Output: out}); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	dst, err := store.Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer dst.Close()

	result, err := Import(ctx, dst, out)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Records != 3 {
		t.Errorf("imported %d records, want 3", result.Records)
	}

	got, err := dst.Get(ctx, schema.CollectionTasks, "t-2")
	if err != nil || got == nil {
		t.Fatalf("Get(t-2) = %v, %v", got, err)
	}
	if got.Status != schema.StatusDone || got.ProjectID != "p-1" {
		t.Errorf("index columns not preserved: status=%q project=%q", got.Status, got.ProjectID)
	}

	meta, err := dst.SyncMetadata(ctx, schema.CollectionTasks)
	if err != nil {
		t.Fatalf("SyncMetadata() failed: %v", err)
	}
	if meta != nil {
		t.Errorf("Import stamped sync metadata %+v, want none", meta)
	}
}

func TestExport_Backup(t *testing.T) {
	s := seededStore(t)
	out := filepath.Join(t.TempDir(), "cache.jsonl")

	if err := os.WriteFile(out, []byte("old\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	result, err := Export(context.Background(), s, Options{
		Output:      out,
		Backup:      true,
		Collections: []schema.Collection{schema.CollectionProjects},
	})
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if result.BackupCreated == "" {
		t.Fatal("BackupCreated is empty")
	}

	backup, err := os.ReadFile(result.BackupCreated)
	if err != nil {
		t.Fatalf("reading backup failed: %v", err)
	}
	if string(backup) != "old\n" {
		t.Errorf("backup = %q, want %q", backup, "old\n")
	}
	if result.Records != 1 {
		t.Errorf("Records = %d, want 1", result.Records)
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", `{"collection":"tasks","id":"t-1","data":{}}` + "\n{oops", "line 2"},
		{"unknown collection", `{"collection":"widgets","id":"w-1","data":{}}`, "unknown collection"},
		{"missing id", `{"collection":"tasks","data":{}}`, "id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("ReadJSONL() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
