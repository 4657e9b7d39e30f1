package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"drive/internal/models"
)

const resourceColumns = `id, user_id, kind, parent_id, name, description, favorite,
	file_name, file_size, content_type, file_path, storage_key, created_at, updated_at`

// ResourceRepository stores folders, images, pdfs and notes in one table.
// Every method is scoped by kind and owner: a row owned by somebody else is
// reported as ErrNotFound, exactly like a missing one.
type ResourceRepository struct {
	db *DB
}

func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// Create assigns an ID with the given prefix plus timestamps, then inserts the
// record. ErrInvalidParent is returned when parent_id does not exist.
func (r *ResourceRepository) Create(ctx context.Context, idPrefix string, res *models.Resource) (*models.Resource, error) {
	id, err := GenerateID(idPrefix)
	if err != nil {
		return nil, fmt.Errorf("generating resource ID: %w", err)
	}
	ts := now()

	out := *res
	out.ID = id
	out.CreatedAt = ts
	out.UpdatedAt = ts

	var fileName, contentType, filePath, storageKey sql.NullString
	var fileSize int64
	if out.File != nil {
		fileName = sql.NullString{String: out.File.Name, Valid: true}
		contentType = sql.NullString{String: out.File.ContentType, Valid: true}
		filePath = sql.NullString{String: out.File.FilePath, Valid: true}
		storageKey = sql.NullString{String: out.File.StorageKey, Valid: out.File.StorageKey != ""}
		fileSize = out.File.Size
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO resources (`+resourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.UserID, string(out.Kind), out.ParentID, out.Name, out.Description, out.Favorite,
		fileName, fileSize, contentType, filePath, storageKey, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyConstraintError(err) {
			return nil, ErrInvalidParent
		}
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	return &out, nil
}

var ErrInvalidParent = errors.New("invalid parent")

// CreateFrom inserts a copy of the owner's record srcID under a new ID and
// name, sharing its blob. The source row is read by the INSERT itself, so a
// concurrent Delete either sees the new reference or makes this return
// ErrNotFound; a copy never points at a reaped blob.
func (r *ResourceRepository) CreateFrom(ctx context.Context, kind models.Kind, ownerID, srcID, idPrefix, name string, keepFavorite bool) (*models.Resource, error) {
	id, err := GenerateID(idPrefix)
	if err != nil {
		return nil, fmt.Errorf("generating resource ID: %w", err)
	}
	ts := now()

	return r.findOne(ctx,
		`INSERT INTO resources (`+resourceColumns+`)
		SELECT ?, user_id, kind, parent_id, ?, description, CASE WHEN ? THEN favorite ELSE 0 END,
			file_name, file_size, content_type, file_path, storage_key, ?, ?
		FROM resources WHERE id = ? AND user_id = ? AND kind = ?
		RETURNING `+resourceColumns,
		id, name, keepFavorite, ts, ts, srcID, ownerID, string(kind),
	)
}

func (r *ResourceRepository) Get(ctx context.Context, kind models.Kind, ownerID, id string) (*models.Resource, error) {
	return r.findOne(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ? AND user_id = ? AND kind = ?`,
		id, ownerID, string(kind),
	)
}

// ResourceUpdate lists the fields to change. A non-nil empty ParentID clears
// the parent.
type ResourceUpdate struct {
	Name        *string
	Description *string
	ParentID    *string
}

func (u ResourceUpdate) empty() bool {
	return u.Name == nil && u.Description == nil && u.ParentID == nil
}

func (r *ResourceRepository) Update(ctx context.Context, kind models.Kind, ownerID, id string, update ResourceUpdate) (*models.Resource, error) {
	if update.empty() {
		return r.Get(ctx, kind, ownerID, id)
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 7)
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.ParentID != nil {
		sets = append(sets, "parent_id = ?")
		if *update.ParentID == "" {
			args = append(args, nil)
		} else {
			args = append(args, *update.ParentID)
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id, ownerID, string(kind))

	res, err := r.findOne(ctx,
		`UPDATE resources SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND user_id = ? AND kind = ?
		RETURNING `+resourceColumns,
		args...,
	)
	if err != nil && IsForeignKeyConstraintError(err) {
		return nil, ErrInvalidParent
	}
	return res, err
}

// ToggleFavorite flips the flag in one statement so concurrent toggles never
// lose the row or read a stale value.
func (r *ResourceRepository) ToggleFavorite(ctx context.Context, kind models.Kind, ownerID, id string) (*models.Resource, error) {
	return r.findOne(ctx,
		`UPDATE resources SET favorite = NOT favorite, updated_at = ?
		WHERE id = ? AND user_id = ? AND kind = ?
		RETURNING `+resourceColumns,
		now(), id, ownerID, string(kind),
	)
}

// Delete removes the record. When it held the last reference to a blob, the
// blob is queued in orphaned_blobs in the same transaction and returned.
func (r *ResourceRepository) Delete(ctx context.Context, kind models.Kind, ownerID, id, backend string) (*models.Resource, *models.OrphanedBlob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("starting resource delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := scanResource(tx.QueryRowContext(ctx,
		`DELETE FROM resources WHERE id = ? AND user_id = ? AND kind = ? RETURNING `+resourceColumns,
		id, ownerID, string(kind),
	))
	if err != nil {
		return nil, nil, err
	}

	var orphan *models.OrphanedBlob
	if res.HasFile() {
		var refs int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM resources WHERE storage_key = ?`,
			res.File.StorageKey,
		).Scan(&refs)
		if err != nil {
			return nil, nil, fmt.Errorf("counting blob references: %w", err)
		}
		if refs == 0 {
			orphan, err = insertOrphan(ctx, tx, backend, res.File.StorageKey)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing resource delete: %w", err)
	}

	return res, orphan, nil
}

// IsStorageKeyReferenced reports whether any record still points at the blob.
func (r *ResourceRepository) IsStorageKeyReferenced(ctx context.Context, storageKey string) (bool, error) {
	var refs int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE storage_key = ?`, storageKey).Scan(&refs)
	if err != nil {
		return false, fmt.Errorf("counting blob references: %w", err)
	}
	return refs > 0, nil
}

type ListFilter struct {
	FavoritesOnly bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

func (r *ResourceRepository) List(ctx context.Context, kind models.Kind, ownerID string, filter ListFilter) ([]*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE user_id = ? AND kind = ?`
	args := []any{ownerID, string(kind)}

	if filter.FavoritesOnly {
		query += ` AND favorite = 1`
	}
	if filter.CreatedFrom != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.CreatedTo.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	resources := make([]*models.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}

	return resources, rows.Err()
}

func (r *ResourceRepository) Count(ctx context.Context, kind models.Kind, ownerID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE user_id = ? AND kind = ?`,
		ownerID, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting resources: %w", err)
	}
	return count, nil
}

func (r *ResourceRepository) TotalSize(ctx context.Context, kind models.Kind, ownerID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM resources WHERE user_id = ? AND kind = ?`,
		ownerID, string(kind),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing resource sizes: %w", err)
	}
	return total, nil
}

// FolderUsage sums the file sizes of the owner's records placed in folderID.
func (r *ResourceRepository) FolderUsage(ctx context.Context, ownerID, folderID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM resources WHERE user_id = ? AND parent_id = ?`,
		ownerID, folderID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing folder usage: %w", err)
	}
	return total, nil
}

func (r *ResourceRepository) findOne(ctx context.Context, query string, args ...any) (*models.Resource, error) {
	return scanResource(r.db.QueryRowContext(ctx, query, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*models.Resource, error) {
	var res models.Resource
	var kind string
	var parentID, fileName, contentType, filePath, storageKey sql.NullString
	var fileSize int64

	err := row.Scan(
		&res.ID,
		&res.UserID,
		&kind,
		&parentID,
		&res.Name,
		&res.Description,
		&res.Favorite,
		&fileName,
		&fileSize,
		&contentType,
		&filePath,
		&storageKey,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}

	res.Kind = models.Kind(kind)
	res.ParentID = nullStringToPtr(parentID)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	if filePath.Valid || storageKey.Valid {
		res.File = &models.FileRef{
			Name:        fileName.String,
			Size:        fileSize,
			ContentType: contentType.String,
			FilePath:    filePath.String,
			StorageKey:  storageKey.String,
		}
	}

	return &res, nil
}
