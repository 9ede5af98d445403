package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

const upsertRecordSQL = `
	INSERT INTO records (collection, id, data, project_id, assignee, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		data = excluded.data,
		project_id = excluded.project_id,
		assignee = excluded.assignee,
		status = excluded.status,
		updated_at = excluded.updated_at
`

const selectRecordColumns = `SELECT collection, id, data, project_id, assignee, status, updated_at FROM records`

// Put stores records in a collection, overwriting any record with the same
// ID wholesale. The batch runs in one transaction: either every record is
// stored or none are.
func (s *Store) Put(ctx context.Context, collection schema.Collection, recs ...schema.Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRecords(ctx, tx, collection, recs)
	})
}

// Refresh stores records that came from a network response and stamps the
// collection's sync metadata in the same transaction.
func (s *Store) Refresh(ctx context.Context, collection schema.Collection, recs ...schema.Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertRecords(ctx, tx, collection, recs); err != nil {
			return err
		}
		return stampRefresh(ctx, tx, collection, time.Now())
	})
}

// ReplaceMatching makes the cached subset of a collection selected by q and
// match equal to recs: matching records absent from recs are deleted, recs
// are upserted, and sync metadata is stamped. This is the full replace the
// query layer performs after a successful filtered network read.
func (s *Store) ReplaceMatching(ctx context.Context, collection schema.Collection, q schema.IndexQuery, match func(*schema.Record) bool, recs ...schema.Record) error {
	keep := make(map[string]bool, len(recs))
	for _, rec := range recs {
		keep[rec.ID] = true
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := queryRecords(ctx, tx, collection, q)
		if err != nil {
			return err
		}

		for i := range existing {
			rec := &existing[i]
			if keep[rec.ID] || (match != nil && !match(rec)) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, rec.ID); err != nil {
				return fmt.Errorf("failed to drop stale record %s/%s: %w", collection, rec.ID, err)
			}
		}

		if err := upsertRecords(ctx, tx, collection, recs); err != nil {
			return err
		}
		return stampRefresh(ctx, tx, collection, time.Now())
	})
}

// Get returns one record, or nil if it is not cached.
func (s *Store) Get(ctx context.Context, collection schema.Collection, id string) (*schema.Record, error) {
	row := s.conn.QueryRowContext(ctx, selectRecordColumns+` WHERE collection = ? AND id = ?`, collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// GetAll returns the records of a collection selected through a secondary
// index. The zero IndexQuery returns the whole collection. Results are
// ordered by updated_at descending, then id.
func (s *Store) GetAll(ctx context.Context, collection schema.Collection, q schema.IndexQuery) ([]schema.Record, error) {
	return queryRecords(ctx, s.conn, collection, q)
}

// Delete removes a record. Returns nil if it doesn't exist (idempotent).
func (s *Store) Delete(ctx context.Context, collection schema.Collection, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Clear removes every record of a collection along with its sync metadata.
func (s *Store) Clear(ctx context.Context, collection schema.Collection) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
			return fmt.Errorf("failed to clear %s: %w", collection, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_metadata WHERE collection = ?`, collection); err != nil {
			return fmt.Errorf("failed to clear sync metadata for %s: %w", collection, err)
		}
		return nil
	})
}

// Count returns the number of cached records in a collection.
func (s *Store) Count(ctx context.Context, collection schema.Collection) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRecords(ctx context.Context, q queryer, collection schema.Collection, iq schema.IndexQuery) ([]schema.Record, error) {
	query := selectRecordColumns + ` WHERE collection = ?`
	args := []any{collection}

	switch iq.Index {
	case schema.IndexNone:
	case schema.IndexProject, schema.IndexAssignee, schema.IndexStatus:
		// Column name comes from the closed Index set above, never from input.
		query += ` AND ` + string(iq.Index) + ` = ?`
		args = append(args, iq.Value)
	default:
		return nil, fmt.Errorf("unknown index %q", iq.Index)
	}

	query += ` ORDER BY updated_at DESC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var recs []schema.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", collection, err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", collection, err)
	}

	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*schema.Record, error) {
	var rec schema.Record
	var collection, data, updatedAt string

	err := row.Scan(
		&collection,
		&rec.ID,
		&data,
		&rec.ProjectID,
		&rec.Assignee,
		&rec.Status,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Collection = schema.Collection(collection)
	rec.Data = []byte(data)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func upsertRecords(ctx context.Context, tx *sql.Tx, collection schema.Collection, recs []schema.Record) error {
	if len(recs) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		rec := &recs[i]
		if rec.Collection == "" {
			rec.Collection = collection
		}
		if rec.Collection != collection {
			return fmt.Errorf("record %s belongs to %s, not %s", rec.ID, rec.Collection, collection)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}

		updatedAt := rec.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}

		_, err := stmt.ExecContext(ctx,
			collection,
			rec.ID,
			string(rec.Data),
			rec.ProjectID,
			rec.Assignee,
			rec.Status,
			formatTime(updatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", collection, rec.ID, err)
		}
	}

	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
