package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"drive/internal/auth"
	"drive/internal/constants"
	"drive/internal/db"
	"drive/internal/models"
	"drive/internal/session"
)

type contextKey string

const userKey contextKey = "user"

var errNoCredentials = errors.New("no credentials")

// Authenticator is the credential strategy selected by auth.mode. Exactly one
// is active per process.
type Authenticator interface {
	Mode() string
	// Authenticate returns the user ID behind the request credentials.
	Authenticate(r *http.Request) (string, error)
	// Issue establishes credentials for user and returns the token to put in
	// the response body, or "" when the strategy has none.
	Issue(w http.ResponseWriter, r *http.Request, user *models.User) (string, error)
	// Refresh updates credentials after the user's profile changed.
	Refresh(w http.ResponseWriter, r *http.Request, user *models.User) error
	// Revoke clears the request's credentials. It is safe without any.
	Revoke(w http.ResponseWriter, r *http.Request) error
}

type cookieOptions struct {
	secure bool
	maxAge time.Duration
}

func (o cookieOptions) set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(o.maxAge / time.Second),
		HttpOnly: true,
		Secure:   o.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (o cookieOptions) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

type TokenAuthenticator struct {
	jwt     *auth.JWTService
	cookies cookieOptions
}

func NewTokenAuthenticator(jwtService *auth.JWTService, secureCookies bool) *TokenAuthenticator {
	return &TokenAuthenticator{
		jwt:     jwtService,
		cookies: cookieOptions{secure: secureCookies, maxAge: jwtService.TTL()},
	}
}

func (a *TokenAuthenticator) Mode() string {
	return "token"
}

// Authenticate reads the token cookie first and falls back to a bearer
// Authorization header.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	token := ""
	if cookie, err := r.Cookie(constants.AuthCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = strings.TrimSpace(parts[1])
		}
	}
	if token == "" {
		return "", errNoCredentials
	}

	return a.jwt.Verify(token)
}

func (a *TokenAuthenticator) Issue(w http.ResponseWriter, _ *http.Request, user *models.User) (string, error) {
	token, _, err := a.jwt.Issue(user.ID)
	if err != nil {
		return "", err
	}
	a.cookies.set(w, constants.AuthCookieName, token)
	return token, nil
}

// Refresh is a no-op: tokens carry only the user ID.
func (a *TokenAuthenticator) Refresh(http.ResponseWriter, *http.Request, *models.User) error {
	return nil
}

func (a *TokenAuthenticator) Revoke(w http.ResponseWriter, _ *http.Request) error {
	a.cookies.clear(w, constants.AuthCookieName)
	return nil
}

type SessionAuthenticator struct {
	store   session.Store
	cookies cookieOptions
}

func NewSessionAuthenticator(store session.Store, ttl time.Duration, secureCookies bool) *SessionAuthenticator {
	return &SessionAuthenticator{
		store:   store,
		cookies: cookieOptions{secure: secureCookies, maxAge: ttl},
	}
}

func (a *SessionAuthenticator) Mode() string {
	return "session"
}

func (a *SessionAuthenticator) Authenticate(r *http.Request) (string, error) {
	cookie, err := r.Cookie(constants.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoCredentials
	}

	user, err := a.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (a *SessionAuthenticator) Issue(w http.ResponseWriter, r *http.Request, user *models.User) (string, error) {
	// A login on top of an existing session replaces it.
	if cookie, err := r.Cookie(constants.SessionCookieName); err == nil && cookie.Value != "" {
		if err := a.store.Destroy(r.Context(), cookie.Value); err != nil {
			slog.Warn("error destroying previous session", "error", err)
		}
	}

	id, err := a.store.Create(r.Context(), user.Projection())
	if err != nil {
		return "", err
	}
	a.cookies.set(w, constants.SessionCookieName, id)
	return "", nil
}

func (a *SessionAuthenticator) Refresh(w http.ResponseWriter, r *http.Request, user *models.User) error {
	cookie, err := r.Cookie(constants.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	if err := a.store.Refresh(r.Context(), cookie.Value, user.Projection()); err != nil {
		return err
	}
	a.cookies.set(w, constants.SessionCookieName, cookie.Value)
	return nil
}

func (a *SessionAuthenticator) Revoke(w http.ResponseWriter, r *http.Request) error {
	a.cookies.clear(w, constants.SessionCookieName)

	cookie, err := r.Cookie(constants.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return a.store.Destroy(r.Context(), cookie.Value)
}

// UserLookup re-reads the caller so credentials of a deleted account stop
// working immediately.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type AuthGate struct {
	authn Authenticator
	users UserLookup
}

func NewAuthGate(authn Authenticator, users UserLookup) *AuthGate {
	return &AuthGate{authn: authn, users: users}
}

func (g *AuthGate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.authn.Authenticate(r)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, constants.ErrCodeTokenExpired, "Token has expired")
			return
		case errors.Is(err, errNoCredentials):
			unauthorized(w, "Authentication required")
			return
		case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, session.ErrNotFound):
			unauthorized(w, "Invalid or expired credentials")
			return
		default:
			slog.Error("error authenticating request", "error", err, "mode", g.authn.Mode())
			internalError(w)
			return
		}

		user, err := g.users.FindByID(r.Context(), userID)
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(w, "User no longer exists")
			return
		}
		if err != nil {
			slog.Error("error loading authenticated user", "error", err, "user_id", userID)
			internalError(w)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUser(r *http.Request) *models.User {
	if user, ok := r.Context().Value(userKey).(*models.User); ok {
		return user
	}
	return nil
}

func GetUserID(r *http.Request) string {
	if user := GetUser(r); user != nil {
		return user.ID
	}
	return ""
}
