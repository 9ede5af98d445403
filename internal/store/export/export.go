// Package export dumps and reloads cached collections as JSONL.
//
// Each line is one schema.Record, so an export carries the verbatim server
// JSON plus its index columns and can seed a fresh cache with Import.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// Options contains configuration for an export.
type Options struct {
	Collections []schema.Collection // Empty means every collection
	Output      string              // Output file path
	Backup      bool                // Keep the previous file as a timestamped backup
}

// Result contains statistics about an export or import.
type Result struct {
	Records       int                       `json:"records" yaml:"records"`
	PerCollection map[schema.Collection]int `json:"per_collection" yaml:"per_collection"`
	BackupCreated string                    `json:"backup_created,omitempty" yaml:"backup_created,omitempty"`
}

// WriteJSONL writes every record of the given collections to w, one JSON
// object per line.
func WriteJSONL(ctx context.Context, s *store.Store, collections []schema.Collection, w io.Writer) (*Result, error) {
	if len(collections) == 0 {
		collections = schema.Collections
	}

	result := &Result{PerCollection: make(map[schema.Collection]int)}
	enc := json.NewEncoder(w)

	for _, c := range collections {
		recs, err := s.GetAll(ctx, c, schema.IndexQuery{})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", c, err)
		}
		for i := range recs {
			if err := enc.Encode(&recs[i]); err != nil {
				return nil, fmt.Errorf("failed to encode %s/%s: %w", c, recs[i].ID, err)
			}
		}
		result.PerCollection[c] = len(recs)
		result.Records += len(recs)
	}

	return result, nil
}

// Export writes collections to opts.Output atomically via a temp file.
func Export(ctx context.Context, s *store.Store, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var backupPath string
	if opts.Backup {
		if _, err := os.Stat(opts.Output); err == nil {
			backupPath = opts.Output + ".backup." + time.Now().Format("20060102-150405")
			// #nosec G304 - controlled path from CLI
			prev, err := os.ReadFile(opts.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to read existing export for backup: %w", err)
			}
			if err := os.WriteFile(backupPath, prev, 0600); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
		}
	}

	tmpPath := opts.Output + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	result, err := WriteJSONL(ctx, s, opts.Collections, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, opts.Output); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	result.BackupCreated = backupPath
	return result, nil
}

// ReadJSONL parses records from r. Invalid lines are reported with their
// line number.
func ReadJSONL(r io.Reader) ([]schema.Record, error) {
	var recs []schema.Record
	dec := json.NewDecoder(r)

	for line := 1; ; line++ {
		var rec schema.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

// Import loads a JSONL export into the store, one transaction per
// collection. Imported records are written with Put, not Refresh: they are
// not a network response and leave sync metadata untouched.
func Import(ctx context.Context, s *store.Store, path string) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	recs, err := ReadJSONL(f)
	if err != nil {
		return nil, err
	}

	grouped := make(map[schema.Collection][]schema.Record)
	var order []schema.Collection
	for _, rec := range recs {
		if _, seen := grouped[rec.Collection]; !seen {
			order = append(order, rec.Collection)
		}
		grouped[rec.Collection] = append(grouped[rec.Collection], rec)
	}

	result := &Result{PerCollection: make(map[schema.Collection]int)}
	for _, c := range order {
		if err := s.Put(ctx, c, grouped[c]...); err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", c, err)
		}
		result.PerCollection[c] = len(grouped[c])
		result.Records += len(grouped[c])
	}

	return result, nil
}
