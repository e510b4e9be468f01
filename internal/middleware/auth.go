package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/debatecast/internal/auth"
)

// AccessTokenParam is the query parameter carrying the bearer token for
// clients that cannot set headers on a WebSocket handshake.
const AccessTokenParam = "access_token"

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from the Authorization header, falling back
// to the access_token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(AccessTokenParam)
}

// Authenticate requires a valid bearer token and stores its identity in the
// request context. Requests without one get 401.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeUnauthorized(w, r, "missing_token", "Bearer token is required")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				code, msg := "invalid_token", "Bearer token is invalid"
				if errors.Is(err, auth.ErrExpiredToken) {
					code, msg = "token_expired", "Bearer token has expired"
				}
				writeUnauthorized(w, r, code, msg)
				return
			}

			ctx := SetIdentity(r.Context(), claims.Identity())
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="debatecast"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
