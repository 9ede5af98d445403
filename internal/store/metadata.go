package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// SyncMetadata records when a collection was last refreshed from the
// network. It is informational only and never drives resolution.
type SyncMetadata struct {
	Collection      schema.Collection `json:"collection" yaml:"collection"`
	LastRefreshedAt time.Time         `json:"last_refreshed_at" yaml:"last_refreshed_at"`
}

// SyncMetadata returns the refresh stamp for a collection, or nil if the
// collection was never refreshed.
func (s *Store) SyncMetadata(ctx context.Context, collection schema.Collection) (*SyncMetadata, error) {
	var stamp string
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_refreshed_at FROM sync_metadata WHERE collection = ?`, collection,
	).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata for %s: %w", collection, err)
	}

	return &SyncMetadata{Collection: collection, LastRefreshedAt: parseTime(stamp)}, nil
}

// AllSyncMetadata returns every refresh stamp, ordered by collection.
func (s *Store) AllSyncMetadata(ctx context.Context) ([]SyncMetadata, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT collection, last_refreshed_at FROM sync_metadata ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync metadata: %w", err)
	}
	defer rows.Close()

	var out []SyncMetadata
	for rows.Next() {
		var collection, stamp string
		if err := rows.Scan(&collection, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan sync metadata: %w", err)
		}
		out = append(out, SyncMetadata{
			Collection:      schema.Collection(collection),
			LastRefreshedAt: parseTime(stamp),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync metadata: %w", err)
	}

	return out, nil
}

func stampRefresh(ctx context.Context, tx *sql.Tx, collection schema.Collection, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_metadata (collection, last_refreshed_at) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET last_refreshed_at = excluded.last_refreshed_at
	`, collection, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to stamp sync metadata for %s: %w", collection, err)
	}
	return nil
}
