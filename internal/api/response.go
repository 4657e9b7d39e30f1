package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"drive/internal/apperr"
	"drive/internal/auth"
	"drive/internal/blob"
	"drive/internal/constants"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, constants.ErrCodeUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, constants.ErrCodeNotFound, message)
}

func conflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, constants.ErrCodeConflict, message)
}

func payloadTooLarge(w http.ResponseWriter, message string) {
	writeError(w, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "An internal error occurred")
}

// writeAppError maps the service error taxonomy onto HTTP. Backend failures
// are logged and answered with a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	msg := apperr.Message(err, "Request failed")

	switch {
	case errors.Is(err, blob.ErrFileTooLarge):
		payloadTooLarge(w, "File exceeds maximum upload size")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, constants.ErrCodeTokenExpired, "Token has expired")
	case errors.Is(err, apperr.ErrValidation):
		badRequest(w, msg)
	case errors.Is(err, apperr.ErrAuth):
		unauthorized(w, msg)
	case errors.Is(err, apperr.ErrConflict):
		conflict(w, msg)
	case errors.Is(err, apperr.ErrNotFound):
		notFound(w, msg)
	case errors.Is(err, apperr.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidToken, msg)
	default:
		slog.Error("error handling request",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
		internalError(w)
	}
}
