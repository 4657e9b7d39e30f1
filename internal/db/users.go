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

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const userColumns = `id, name, email, password_hash, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	ts := now()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, email, passwordHash, ts, ts,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    ts,
		UpdatedAt:    &ts,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// UserUpdate carries the profile fields to change; nil fields are left as is.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

func (u UserUpdate) empty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil
}

func (r *UserRepository) Update(ctx context.Context, id string, update UserUpdate) (*models.User, error) {
	if update.empty() {
		return r.FindByID(ctx, id)
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *update.Email)
	}
	if update.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *update.PasswordHash)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)

	user, err := r.findOne(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING `+userColumns,
		args...,
	)
	if err != nil && IsUniqueConstraintError(err) {
		return nil, ErrDuplicate
	}
	return user, err
}

func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?`,
		tokenHash, expiresAt.UTC(), now(), id,
	)
	if err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}
	return checkRowsAffected(result)
}

// ConsumeResetToken swaps in the new password hash and clears the token in a
// single statement, so a token can only ever be redeemed once.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, at time.Time) (*models.User, error) {
	return r.findOne(ctx,
		`UPDATE users
		SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		WHERE reset_token_hash = ? AND reset_token_expires_at > ?
		RETURNING `+userColumns,
		passwordHash, now(), tokenHash, at.UTC(),
	)
}

func (r *UserRepository) DeleteExpiredResetTokens(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL
		WHERE reset_token_hash IS NOT NULL AND reset_token_expires_at <= ?`,
		at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("clearing expired reset tokens: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes the user and, through the foreign key cascade, every resource
// they own. Blobs referenced by those resources are queued in orphaned_blobs
// within the same transaction and returned so the caller can try to delete
// them right away.
func (r *UserRepository) Delete(ctx context.Context, id, backend string) ([]*models.OrphanedBlob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting user delete transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT storage_key FROM resources WHERE user_id = ? AND storage_key IS NOT NULL AND storage_key != ''`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing user blobs: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning user blob key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing user blobs: %w", err)
	}

	orphans := make([]*models.OrphanedBlob, 0, len(keys))
	for _, key := range keys {
		orphan, err := insertOrphan(ctx, tx, backend, key)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, orphan)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting user: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing user delete: %w", err)
	}

	return orphans, nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}
