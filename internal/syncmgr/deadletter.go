package syncmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/store"
)

// DeadLetterSink receives actions dropped at the retry ceiling.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, a store.PendingAction, reason string) error
}

// DeadLetterEntry is one dropped action as written by FileSink.
type DeadLetterEntry struct {
	ID             int64               `yaml:"id"`
	Kind           string              `yaml:"kind"`
	Payload        any                 `yaml:"payload"`
	Affected       []schema.Collection `yaml:"affected"`
	IdempotencyKey string              `yaml:"idempotency_key"`
	RetryCount     int                 `yaml:"retry_count"`
	EnqueuedAt     time.Time           `yaml:"enqueued_at"`
	LastAttemptAt  *time.Time          `yaml:"last_attempt_at,omitempty"`
	DroppedAt      time.Time           `yaml:"dropped_at"`
	Reason         string              `yaml:"reason"`
}

// FileSink appends dead-lettered actions to a YAML file, one document per
// action, so they can be inspected or replayed by hand.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the sink's file path.
func (f *FileSink) Path() string {
	return f.path
}

// DeadLetter implements DeadLetterSink.
func (f *FileSink) DeadLetter(ctx context.Context, a store.PendingAction, reason string) error {
	entry := DeadLetterEntry{
		ID:             a.ID,
		Kind:           a.Kind,
		Affected:       a.AffectedCollections,
		IdempotencyKey: a.IdempotencyKey,
		RetryCount:     a.RetryCount,
		EnqueuedAt:     a.EnqueuedAt,
		LastAttemptAt:  a.LastAttemptAt,
		DroppedAt:      time.Now().UTC(),
		Reason:         reason,
	}

	// Keep the payload readable instead of a quoted JSON string.
	var payload any
	if err := json.Unmarshal(a.Payload, &payload); err == nil {
		entry.Payload = payload
	} else {
		entry.Payload = string(a.Payload)
	}

	data, err := yaml.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	// #nosec G304 - controlled path from config
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append([]byte("---\n"), data...)); err != nil {
		return fmt.Errorf("failed to write dead letter: %w", err)
	}
	return nil
}

// ReadDeadLetters parses every entry written to a FileSink file.
func ReadDeadLetters(path string) ([]DeadLetterEntry, error) {
	// #nosec G304 - controlled path from config
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	defer file.Close()

	var out []DeadLetterEntry
	dec := yaml.NewDecoder(file)
	for {
		var entry DeadLetterEntry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse dead letter %d: %w", len(out)+1, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
