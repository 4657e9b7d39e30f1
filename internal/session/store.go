// Package session keeps the server-side session projection used when the
// gate runs in session mode.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"drive/internal/models"
)

var ErrNotFound = errors.New("session not found")

type Store interface {
	Create(ctx context.Context, user models.SessionUser) (string, error)
	Get(ctx context.Context, id string) (*models.SessionUser, error)
	Refresh(ctx context.Context, id string, user models.SessionUser) error
	Destroy(ctx context.Context, id string) error
}

func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
