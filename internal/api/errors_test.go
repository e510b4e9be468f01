package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/session"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"debate not found", debate.ErrDebateNotFound, ErrCodeNotFound},
		{"provider unavailable", fmt.Errorf("create room: %w", coordinator.ErrExternalProviderUnavailable), ErrCodeProviderUnavailable},
		{"denied", fmt.Errorf("%w: chat disabled", authz.ErrAuthorizationDenied), ErrCodeAuthorizationDenied},
		{"feedback closed", coordinator.ErrFeedbackClosed, ErrCodeAuthorizationDenied},
		{"already connected", session.ErrAlreadyConnected, ErrCodeAlreadyConnected},
		{"role conflict", session.ErrRoleConflict, ErrCodeRoleConflict},
		{"session closed", session.ErrSessionClosed, ErrCodeSessionClosed},
		{"connection gone", session.ErrConnectionNotFound, ErrCodeSessionClosed},
		{"invalid target", authz.ErrInvalidTarget, ErrCodeInvalidTarget},
		{"rate limited", &coordinator.RateLimitError{RetryAfter: 3}, ErrCodeRateLimited},
		{"validation", fmt.Errorf("%w: empty chat", coordinator.ErrValidation), ErrCodeValidation},
		{"invalid rating", debate.ErrInvalidRating, ErrCodeValidation},
		{"invalid position", debate.ErrInvalidPosition, ErrCodeValidation},
		{"immutable field", session.ErrImmutableField, ErrCodeValidation},
		{"unknown", errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := map[string]int{
		ErrCodeValidation:          http.StatusBadRequest,
		ErrCodeInvalidTarget:       http.StatusBadRequest,
		ErrCodeAuthFailed:          http.StatusUnauthorized,
		ErrCodeAuthorizationDenied: http.StatusForbidden,
		ErrCodeNotFound:            http.StatusNotFound,
		ErrCodeAlreadyConnected:    http.StatusConflict,
		ErrCodeSessionClosed:       http.StatusConflict,
		ErrCodeRateLimited:         http.StatusTooManyRequests,
		ErrCodeProviderUnavailable: http.StatusServiceUnavailable,
		ErrCodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := StatusCodeMapping(code); got != want {
			t.Errorf("StatusCodeMapping(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	for _, kind := range []string{ErrCodeProviderUnavailable, ErrCodeRateLimited} {
		if !Retryable(kind) {
			t.Errorf("Retryable(%q) = false, want true", kind)
		}
	}
	for _, kind := range []string{ErrCodeAuthorizationDenied, ErrCodeValidation, ErrCodeSessionClosed, ErrCodeInternal} {
		if Retryable(kind) {
			t.Errorf("Retryable(%q) = true, want false", kind)
		}
	}
}

func TestWriteCoordinatorError(t *testing.T) {
	t.Run("rate limited sets Retry-After", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/debates/d1/feedback", nil)
		writeCoordinatorError(w, r, &coordinator.RateLimitError{RetryAfter: 7})

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if got := w.Header().Get("Retry-After"); got != "7" {
			t.Errorf("Retry-After = %q, want 7", got)
		}
	})

	t.Run("internal detail is hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/debates/d1/session", nil)
		writeCoordinatorError(w, r, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error.Code != ErrCodeInternal {
			t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeInternal)
		}
		if resp.Error.Message != "Internal server error" {
			t.Errorf("message = %q leaks detail", resp.Error.Message)
		}
	})
}
