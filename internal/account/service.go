// Package account implements registration, login, password reset and the
// profile operations on top of the user repository.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"drive/internal/apperr"
	"drive/internal/auth"
	"drive/internal/constants"
	"drive/internal/db"
	"drive/internal/models"
	"drive/internal/render"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	resetMailTimeout      = 30 * time.Second
)

type Notifier interface {
	SendPasswordReset(ctx context.Context, to, name, resetURL string, ttl time.Duration) error
	SendPasswordResetConfirmation(ctx context.Context, to, name string) error
}

// BlobReaper makes one attempt at deleting a blob queued as orphaned.
type BlobReaper interface {
	Reap(ctx context.Context, orphan *models.OrphanedBlob) error
}

type Options struct {
	MinPasswordLength int
	// BaseURL prefixes the reset link sent by email.
	BaseURL string
	// BlobBackend tags orphaned blob rows queued by account deletion.
	BlobBackend string
}

type Service struct {
	users       *db.UserRepository
	hasher      *auth.PasswordHasher
	resetTokens *auth.ResetTokenService
	notifier    Notifier
	reaper      BlobReaper
	renderer    *render.Renderer
	validate    *validator.Validate
	opts        Options
	mail        sync.WaitGroup
}

func NewService(
	users *db.UserRepository,
	hasher *auth.PasswordHasher,
	resetTokens *auth.ResetTokenService,
	notifier Notifier,
	reaper BlobReaper,
	renderer *render.Renderer,
	opts Options,
) *Service {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = constants.DefaultMinPasswordLength
	}
	return &Service{
		users:       users,
		hasher:      hasher,
		resetTokens: resetTokens,
		notifier:    notifier,
		reaper:      reaper,
		renderer:    renderer,
		validate:    validator.New(),
		opts:        opts,
	}
}

type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := s.renderer.Name(in.Name)
	if name == "" {
		return nil, apperr.Validation("Name is required")
	}
	if len(name) > constants.MaxNameLength {
		return nil, apperr.Validation("Name is too long")
	}
	email, err := s.normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := s.checkNewPassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.hashError(err)
	}

	user, err := s.users.Create(ctx, name, email, hash)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, apperr.Conflict("An account with this email already exists")
	}
	if err != nil {
		return nil, apperr.Backend("creating user", err)
	}

	slog.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login answers an unknown email and a wrong password identically, including
// the time spent in bcrypt.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		s.hasher.CompareDummy(password)
		return nil, apperr.Auth(msgInvalidCredentials)
	}
	if err != nil {
		return nil, apperr.Backend("loading user", err)
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, apperr.Auth(msgInvalidCredentials)
	}

	return user, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Backend("loading user", err)
	}
	return user, nil
}

// RequestReset stores a fresh reset token for the account and queues the reset
// email. The raw token is returned so a development server can echo it. Unknown
// emails yield a NotFound error that the HTTP layer must not reveal.
//
// The email goes out in the background so a known address answers as fast as
// an unknown one; delivery failures are only logged.
func (s *Service) RequestReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("Email is required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return "", apperr.NotFound("No account with that email")
	}
	if err != nil {
		return "", apperr.Backend("loading user", err)
	}

	raw, hash, err := s.resetTokens.Generate()
	if err != nil {
		return "", apperr.Backend("generating reset token", err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, hash, s.resetTokens.ExpiresAt()); err != nil {
		return "", apperr.Backend("storing reset token", err)
	}

	resetURL := strings.TrimRight(s.opts.BaseURL, "/") + "/api/auth/reset-password/" + raw
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetMailTimeout)
	s.mail.Add(1)
	go func() {
		defer s.mail.Done()
		defer cancel()
		if err := s.notifier.SendPasswordReset(mailCtx, user.Email, user.Name, resetURL, s.resetTokens.TTL()); err != nil {
			slog.Error("error sending reset email", "error", err, "user_id", user.ID)
		}
	}()

	slog.Info("password reset requested", "user_id", user.ID)
	return raw, nil
}

// Wait blocks until every queued reset email has been handed to the notifier.
func (s *Service) Wait() {
	s.mail.Wait()
}

// ConsumeReset sets a new password if token is live. The token is cleared in
// the same statement, so a second call with it fails.
func (s *Service) ConsumeReset(ctx context.Context, token, password, confirmPassword string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.InvalidToken("Password reset token is invalid or has expired")
	}
	if err := s.checkNewPassword(password, confirmPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, s.hashError(err)
	}

	user, err := s.users.ConsumeResetToken(ctx, auth.HashResetToken(token), hash, s.resetTokens.Now())
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.InvalidToken("Password reset token is invalid or has expired")
	}
	if err != nil {
		return nil, apperr.Backend("resetting password", err)
	}

	if err := s.notifier.SendPasswordResetConfirmation(ctx, user.Email, user.Name); err != nil {
		slog.Warn("error sending password changed email", "error", err, "user_id", user.ID)
	}

	slog.Info("password reset completed", "user_id", user.ID)
	return user, nil
}

type UpdateInput struct {
	Name               *string
	Email              *string
	CurrentPassword    *string
	NewPassword        *string
	ConfirmNewPassword *string
}

// UpdateAccount changes name, email and/or password. A password change needs
// the current password. Fields equal to the stored values do not count as
// updates.
func (s *Service) UpdateAccount(ctx context.Context, userID string, in UpdateInput) (*models.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var update db.UserUpdate
	if in.Name != nil {
		name := s.renderer.Name(*in.Name)
		if name == "" {
			return nil, apperr.Validation("Name cannot be empty")
		}
		if len(name) > constants.MaxNameLength {
			return nil, apperr.Validation("Name is too long")
		}
		if name != user.Name {
			update.Name = &name
		}
	}

	if in.Email != nil {
		email, err := s.normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			update.Email = &email
		}
	}

	if in.NewPassword != nil && *in.NewPassword != "" {
		if in.CurrentPassword == nil || *in.CurrentPassword == "" {
			return nil, apperr.Validation("Current password is required to set a new password")
		}
		if !s.hasher.Compare(user.PasswordHash, *in.CurrentPassword) {
			return nil, apperr.Auth("Current password is incorrect")
		}
		confirm := ""
		if in.ConfirmNewPassword != nil {
			confirm = *in.ConfirmNewPassword
		}
		if err := s.checkNewPassword(*in.NewPassword, confirm); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*in.NewPassword)
		if err != nil {
			return nil, s.hashError(err)
		}
		update.PasswordHash = &hash
	}

	if update.Name == nil && update.Email == nil && update.PasswordHash == nil {
		return nil, apperr.Validation("No updates provided")
	}

	updated, err := s.users.Update(ctx, userID, update)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, apperr.Conflict("An account with this email already exists")
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Backend("updating user", err)
	}

	return updated, nil
}

// DeleteAccount removes the user and everything they own after checking the
// password. Their blobs are queued as orphans in the same transaction and
// reaped right away where possible; leftovers go to the cleanup service.
func (s *Service) DeleteAccount(ctx context.Context, userID, password string) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if password == "" {
		return apperr.Validation("Password is required")
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return apperr.Auth("Password is incorrect")
	}

	orphans, err := s.users.Delete(ctx, userID, s.opts.BlobBackend)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return apperr.Backend("deleting user", err)
	}

	for _, orphan := range orphans {
		if err := s.reaper.Reap(ctx, orphan); err != nil {
			slog.Warn("error deleting blob of deleted account", "error", err, "user_id", userID, "blob_key", orphan.StorageKey)
		}
	}

	slog.Info("account deleted", "user_id", userID, "blobs", len(orphans))
	return nil
}

func (s *Service) normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation("Email is required")
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return "", apperr.Validation("Email is invalid")
	}
	return email, nil
}

func (s *Service) checkNewPassword(password, confirm string) error {
	if password == "" {
		return apperr.Validation("Password is required")
	}
	if len(password) < s.opts.MinPasswordLength {
		return apperr.Validation("Password is too short")
	}
	if password != confirm {
		return apperr.Validation("Passwords do not match")
	}
	return nil
}

func (s *Service) hashError(err error) error {
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return apperr.Validation("Password is too long")
	}
	return apperr.Backend("hashing password", err)
}
