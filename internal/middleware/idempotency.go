package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/debatecast/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from a stored outcome.
const IdempotentReplayHeader = "Idempotent-Replayed"

// idempotencyResponseWriter captures the response so it can be stored.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Idempotency replays the stored response of a POST that carries an
// Idempotency-Key the same identity already used on the same path. Requests
// without the header pass through. Only 2xx responses are stored, so a failed
// attempt can be retried with the same key. It must run after Authenticate.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			if err := idempotency.ValidateKey(key); err != nil {
				code, msg := "invalid_idempotency_key", "Idempotency-Key must be printable ASCII"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code, msg = "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters"
				}
				UpdateResponseContext(w, SetErrorCode(ctx, code))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"code": code, "message": msg},
				})
				return
			}

			scope := idempotency.Scope(GetIdentity(ctx), r.Method, r.URL.Path, key)
			existing, err := repo.Get(ctx, scope)
			switch {
			case err == nil:
				logger.InfoContext(ctx, "replaying idempotent response",
					slog.String("path", r.URL.Path),
					slog.Int("status", existing.StatusCode),
				)
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = w.Write([]byte(existing.Body))
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				logger.WarnContext(ctx, "idempotency lookup failed, serving request",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			cw := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.statusCode < 200 || cw.statusCode >= 300 {
				return
			}
			body := cw.body.String()
			rec := &idempotency.Record{
				Scope:        scope,
				Method:       r.Method,
				Route:        r.URL.Path,
				StatusCode:   cw.statusCode,
				ContentType:  cw.Header().Get("Content-Type"),
				Body:         body,
				ResponseHash: idempotency.ComputeResponseHash(body),
			}
			if err := repo.Store(ctx, rec); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
				logger.WarnContext(ctx, "failed to store idempotent response",
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
