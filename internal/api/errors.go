// Package api exposes the debate coordinator over HTTP: the session
// WebSocket, session status, feedback, health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/middleware"
	"github.com/onnwee/debatecast/internal/session"
)

// Error kinds shared by HTTP responses and socket error messages.
const (
	ErrCodeAuthorizationDenied = "authorization_denied"
	ErrCodeAlreadyConnected    = "already_connected"
	ErrCodeRoleConflict        = "role_conflict"
	ErrCodeSessionClosed       = "session_closed"
	ErrCodeInvalidTarget       = "invalid_target"
	ErrCodeProviderUnavailable = "external_provider_unavailable"
	ErrCodeNotFound            = "not_found"
	ErrCodeValidation          = "validation_error"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeInternal            = "internal_error"
	ErrCodeBadRequest          = "bad_request"
	ErrCodeAuthFailed          = "auth_failed"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records code on
// the logging middleware's context.
//
// Example:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Debate not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// ErrorKind maps a coordinator error to its wire kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, debate.ErrDebateNotFound):
		return ErrCodeNotFound
	case errors.Is(err, coordinator.ErrExternalProviderUnavailable):
		return ErrCodeProviderUnavailable
	case errors.Is(err, authz.ErrAuthorizationDenied),
		errors.Is(err, coordinator.ErrFeedbackClosed):
		return ErrCodeAuthorizationDenied
	case errors.Is(err, session.ErrAlreadyConnected):
		return ErrCodeAlreadyConnected
	case errors.Is(err, session.ErrRoleConflict):
		return ErrCodeRoleConflict
	case errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrConnectionNotFound):
		return ErrCodeSessionClosed
	case errors.Is(err, authz.ErrInvalidTarget):
		return ErrCodeInvalidTarget
	case errors.Is(err, coordinator.ErrRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, coordinator.ErrValidation),
		errors.Is(err, debate.ErrInvalidRating),
		errors.Is(err, debate.ErrInvalidPosition),
		errors.Is(err, session.ErrImmutableField):
		return ErrCodeValidation
	default:
		return ErrCodeInternal
	}
}

// Retryable reports whether a client may retry the same request unchanged.
func Retryable(kind string) bool {
	return kind == ErrCodeProviderUnavailable || kind == ErrCodeRateLimited
}

// StatusCodeMapping returns the HTTP status for an error kind.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidTarget:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeAuthorizationDenied:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyConnected, ErrCodeRoleConflict, ErrCodeSessionClosed:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// message returns a client-safe description of err. Internal and provider
// errors are not echoed since they carry infrastructure detail.
func message(kind string, err error) string {
	switch kind {
	case ErrCodeInternal:
		return "Internal server error"
	case ErrCodeProviderUnavailable:
		return "A backing service is unavailable, retry shortly"
	}
	return err.Error()
}

// writeCoordinatorError maps err to a kind and writes it.
func writeCoordinatorError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ErrorKind(err)
	ctx := middleware.SetErrorCode(r.Context(), kind)
	if kind == ErrCodeInternal {
		slog.ErrorContext(ctx, "request failed", "error", err)
	}
	var rl *coordinator.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
	}
	WriteError(w, ctx, StatusCodeMapping(kind), kind, message(kind, err))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
