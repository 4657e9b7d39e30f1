package db

import (
	"context"
	"database/sql"
	"fmt"

	"drive/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrphan(ctx context.Context, ex execer, backend, storageKey string) (*models.OrphanedBlob, error) {
	id, err := GenerateID("orb")
	if err != nil {
		return nil, fmt.Errorf("generating orphan ID: %w", err)
	}
	ts := now()

	_, err = ex.ExecContext(ctx,
		`INSERT INTO orphaned_blobs (id, backend, storage_key, attempts, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, backend, storageKey, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("recording orphaned blob: %w", err)
	}

	return &models.OrphanedBlob{
		ID:         id,
		Backend:    backend,
		StorageKey: storageKey,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}, nil
}

type OrphanRepository struct {
	db *DB
}

func NewOrphanRepository(db *DB) *OrphanRepository {
	return &OrphanRepository{db: db}
}

// ListPending returns the least recently attempted orphans of one backend.
func (r *OrphanRepository) ListPending(ctx context.Context, backend string, limit int) ([]*models.OrphanedBlob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, backend, storage_key, attempts, last_error, created_at, updated_at
		FROM orphaned_blobs WHERE backend = ? ORDER BY updated_at ASC LIMIT ?`,
		backend, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying orphaned blobs: %w", err)
	}
	defer rows.Close()

	var orphans []*models.OrphanedBlob
	for rows.Next() {
		var o models.OrphanedBlob
		var lastError sql.NullString
		if err := rows.Scan(&o.ID, &o.Backend, &o.StorageKey, &o.Attempts, &lastError, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning orphaned blob: %w", err)
		}
		o.LastError = nullStringToPtr(lastError)
		orphans = append(orphans, &o)
	}

	return orphans, rows.Err()
}

func (r *OrphanRepository) Remove(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orphaned_blobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing orphaned blob: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *OrphanRepository) RecordFailure(ctx context.Context, id string, cause error) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orphaned_blobs SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		cause.Error(), now(), id,
	)
	if err != nil {
		return fmt.Errorf("recording orphan failure: %w", err)
	}
	return checkRowsAffected(result)
}
