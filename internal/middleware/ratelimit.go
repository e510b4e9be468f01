package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/debatecast/internal/ratelimit"
)

// DefaultGlobalLimit is the per-client HTTP limit applied to the whole API.
// Socket messages are limited separately by the coordinator.
func DefaultGlobalLimit() ratelimit.Config {
	return ratelimit.PerMinute(120)
}

// KeyFunc extracts a rate limit key from an HTTP request, and reports the key
// type used as a metric label.
type KeyFunc func(r *http.Request) (key, keyType string)

// ClientIP returns the client's address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdentityKeyFunc keys on the authenticated identity when present, falling
// back to the client IP.
func IdentityKeyFunc() KeyFunc {
	return func(r *http.Request) (string, string) {
		if id := GetIdentity(r.Context()); id != "" {
			return "identity:" + id, "identity"
		}
		return "ip:" + ClientIP(r), "ip"
	}
}

// RateLimiter rejects requests over cfg with 429 Too Many Requests, a
// Retry-After header and the API's JSON error envelope. metrics may be nil.
func RateLimiter(store ratelimit.Store, cfg ratelimit.Config, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, keyType := keyFunc(r)
			endpoint := normalizePath(r.URL.Path)
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType)
			}

			allowed, retryAfter := store.Allow(r.Context(), "http:"+key, cfg)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			if metrics != nil {
				metrics.IncRateLimitBlocked(endpoint, keyType)
			}

			UpdateResponseContext(w, SetErrorCode(r.Context(), "rate_limited"))

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			// X-RateLimit-Reset is a Unix timestamp.
			reset := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "rate_limited",
					"message": "Too many requests, retry after " + strconv.Itoa(retryAfter) + "s",
				},
			})
		})
	}
}
