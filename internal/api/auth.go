package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive/internal/account"
	"drive/internal/apperr"
	"drive/internal/constants"
	"drive/internal/models"
)

const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent"

type AuthHandler struct {
	accounts         *account.Service
	authn            Authenticator
	exposeResetToken bool
}

func NewAuthHandler(accounts *account.Service, authn Authenticator, exposeResetToken bool) *AuthHandler {
	return &AuthHandler{
		accounts:         accounts,
		authn:            authn,
		exposeResetToken: exposeResetToken,
	}
}

type RegisterRequest struct {
	Name            string `json:"name" validate:"required,max=255"`
	Email           string `json:"email" validate:"required,max=254"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type UpdateAccountRequest struct {
	Name               *string `json:"name" validate:"omitempty,max=255"`
	Email              *string `json:"email" validate:"omitempty,max=254"`
	CurrentPassword    *string `json:"currentPassword"`
	NewPassword        *string `json:"newPassword"`
	ConfirmNewPassword *string `json:"confirmNewPassword"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token,omitempty"`
}

type UserResponse struct {
	User *models.User `json:"user"`
}

type ForgotPasswordResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken,omitempty"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.accounts.Register(r.Context(), account.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.issue(w, r, http.StatusCreated, user)
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, apperr.ErrAuth) {
		writeError(w, http.StatusUnauthorized, constants.ErrCodeInvalidCredentials, apperr.Message(err, "Invalid email or password"))
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.issue(w, r, http.StatusOK, user)
}

// POST /api/auth/forgot-password
//
// Known and unknown emails get the same answer.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	token, err := h.accounts.RequestReset(r.Context(), req.Email)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrValidation):
		badRequest(w, apperr.Message(err, "Invalid email"))
		return
	case errors.Is(err, apperr.ErrNotFound):
		slog.Debug("password reset requested for unknown email")
	default:
		slog.Error("error requesting password reset", "error", err)
	}

	resp := ForgotPasswordResponse{Message: forgotPasswordMessage}
	if h.exposeResetToken {
		resp.ResetToken = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/auth/reset-password/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	_, err := h.accounts.ConsumeReset(r.Context(), chi.URLParam(r, "token"), req.Password, req.ConfirmPassword)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Password has been reset")
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.Revoke(w, r); err != nil {
		slog.Warn("error revoking credentials", "error", err, "mode", h.authn.Mode())
	}
	writeMessage(w, http.StatusOK, "Logged out")
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// PUT /api/auth/update-account
func (h *AuthHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.accounts.UpdateAccount(r.Context(), GetUserID(r), account.UpdateInput{
		Name:               req.Name,
		Email:              req.Email,
		CurrentPassword:    req.CurrentPassword,
		NewPassword:        req.NewPassword,
		ConfirmNewPassword: req.ConfirmNewPassword,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	if err := h.authn.Refresh(w, r, user); err != nil {
		slog.Warn("error refreshing credentials after account update", "error", err, "user_id", user.ID)
	}

	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// DELETE /api/auth/delete-account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req DeleteAccountRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), GetUserID(r), req.Password); err != nil {
		writeAppError(w, r, err)
		return
	}

	if err := h.authn.Revoke(w, r); err != nil {
		slog.Warn("error revoking credentials after account deletion", "error", err, "mode", h.authn.Mode())
	}

	writeMessage(w, http.StatusOK, "Account deleted")
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := h.authn.Issue(w, r, user)
	if err != nil {
		writeAppError(w, r, apperr.Backend("issuing credentials", err))
		return
	}
	writeJSON(w, status, AuthResponse{User: user, Token: token})
}
