package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// PendingAction is a persisted mutation awaiting replay against the server.
//
// Rows are append-only except for Synced, RetryCount and LastAttemptAt.
// ID is assigned by the database and strictly increases, so ordering by ID
// is enqueue order.
type PendingAction struct {
	ID                  int64               `json:"id" yaml:"id"`
	Kind                string              `json:"kind" yaml:"kind"`
	Payload             json.RawMessage     `json:"payload" yaml:"-"`
	AffectedCollections []schema.Collection `json:"affected_collections" yaml:"affected_collections"`
	IdempotencyKey      string              `json:"idempotency_key" yaml:"idempotency_key"`
	Synced              bool                `json:"synced" yaml:"synced"`
	RetryCount          int                 `json:"retry_count" yaml:"retry_count"`
	EnqueuedAt          time.Time           `json:"enqueued_at" yaml:"enqueued_at"`
	LastAttemptAt       *time.Time          `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
}

const selectActionColumns = `SELECT id, kind, payload, affected, idempotency_key, synced, retry_count, enqueued_at, last_attempt_at FROM pending_actions`

// AppendAction persists a new pending action and returns it with its
// assigned ID. EnqueuedAt defaults to now.
func (s *Store) AppendAction(ctx context.Context, a PendingAction) (*PendingAction, error) {
	if a.Kind == "" {
		return nil, fmt.Errorf("pending action kind is required")
	}
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = time.Now()
	}
	if a.Payload == nil {
		a.Payload = json.RawMessage("{}")
	}
	if a.AffectedCollections == nil {
		a.AffectedCollections = []schema.Collection{}
	}

	affected, err := json.Marshal(a.AffectedCollections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal affected collections: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO pending_actions (kind, payload, affected, idempotency_key, synced, retry_count, enqueued_at, last_attempt_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, NULL)
	`, a.Kind, string(a.Payload), string(affected), a.IdempotencyKey, formatTime(a.EnqueuedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to append pending action: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending action id: %w", err)
	}

	a.ID = id
	a.Synced = false
	a.RetryCount = 0
	a.LastAttemptAt = nil
	return &a, nil
}

// LoadUnsynced returns every unsynced action in enqueue order.
func (s *Store) LoadUnsynced(ctx context.Context) ([]PendingAction, error) {
	rows, err := s.conn.QueryContext(ctx, selectActionColumns+` WHERE synced = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending actions: %w", err)
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending action: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending actions: %w", err)
	}

	return out, nil
}

// GetAction returns one pending action, or nil if it doesn't exist.
func (s *Store) GetAction(ctx context.Context, id int64) (*PendingAction, error) {
	row := s.conn.QueryRowContext(ctx, selectActionColumns+` WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending action %d: %w", id, err)
	}
	return a, nil
}

// MarkAttempt records a failed replay: the retry counter is incremented
// and the attempt time stamped. Returns the new retry count.
func (s *Store) MarkAttempt(ctx context.Context, id int64, at time.Time) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		UPDATE pending_actions
		SET retry_count = retry_count + 1, last_attempt_at = ?
		WHERE id = ?
		RETURNING retry_count
	`, formatTime(at), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("pending action %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for action %d: %w", id, err)
	}
	return count, nil
}

// MarkSynced flags an action as replayed successfully.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `UPDATE pending_actions SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark action %d synced: %w", id, err)
	}
	return nil
}

// DeleteAction removes an action. Idempotent.
func (s *Store) DeleteAction(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete action %d: %w", id, err)
	}
	return nil
}

// CountUnsynced returns the number of actions awaiting replay.
func (s *Store) CountUnsynced(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_actions WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}

// ClearActions drops every queued action and returns how many were removed.
func (s *Store) ClearActions(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM pending_actions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear pending actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared actions: %w", err)
	}
	return int(n), nil
}

func scanAction(row scanner) (*PendingAction, error) {
	var a PendingAction
	var payload, affected, enqueuedAt string
	var synced int
	var lastAttempt sql.NullString

	err := row.Scan(
		&a.ID,
		&a.Kind,
		&payload,
		&affected,
		&a.IdempotencyKey,
		&synced,
		&a.RetryCount,
		&enqueuedAt,
		&lastAttempt,
	)
	if err != nil {
		return nil, err
	}

	a.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(affected), &a.AffectedCollections); err != nil {
		return nil, fmt.Errorf("failed to parse affected collections: %w", err)
	}
	a.Synced = synced != 0
	a.EnqueuedAt = parseTime(enqueuedAt)
	a.LastAttemptAt = nullStringToTime(lastAttempt)
	return &a, nil
}
