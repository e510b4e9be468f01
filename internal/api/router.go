package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/health"
	"github.com/onnwee/debatecast/internal/idempotency"
	"github.com/onnwee/debatecast/internal/middleware"
	"github.com/onnwee/debatecast/internal/ratelimit"
)

// ServiceName names the HTTP server in traces.
const ServiceName = "debatecast-api"

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	Manager   *coordinator.Manager
	Validator middleware.TokenValidator
	Logger    *slog.Logger

	// Checkers feeds /ready; see NewHealthHandlers.
	Checkers map[string]health.Checker

	// Metrics and Gatherer enable HTTP metrics and GET /metrics when set.
	Metrics  *middleware.Metrics
	Gatherer prometheus.Gatherer

	// Limiter applies RateLimit per identity (or IP) to the debate routes.
	// Nil disables HTTP rate limiting.
	Limiter   ratelimit.Store
	RateLimit ratelimit.Config

	// Idempotency replays retried feedback posts. Nil disables it.
	Idempotency idempotency.Repository

	CORS   middleware.CORSConfig
	Socket SocketConfig
}

// NewRouter builds the HTTP handler:
// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> mux.
// Debate routes additionally pass Authenticate and the rate limiter, and
// feedback posts the idempotency replay.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	healthHandlers := NewHealthHandlers(cfg.Checkers)
	debateHandlers := NewDebateHandlers(cfg.Manager)

	socketCfg := cfg.Socket
	if socketCfg.CheckOrigin == nil {
		socketCfg.CheckOrigin = cfg.CORS.OriginAllowed
	}
	socket := NewSessionSocketHandler(cfg.Manager, socketCfg, cfg.Metrics, logger)

	protect := func(h http.Handler) http.Handler {
		if cfg.Limiter != nil {
			h = middleware.RateLimiter(cfg.Limiter, cfg.RateLimit, middleware.IdentityKeyFunc(), cfg.Metrics)(h)
		}
		return middleware.Authenticate(cfg.Validator)(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("GET /debates/{id}/ws", protect(socket))
	mux.Handle("GET /debates/{id}/session", protect(http.HandlerFunc(debateHandlers.SessionStatus)))
	var feedback http.Handler = http.HandlerFunc(debateHandlers.SubmitFeedback)
	if cfg.Idempotency != nil {
		feedback = middleware.Idempotency(cfg.Idempotency, logger)(feedback)
	}
	mux.Handle("POST /debates/{id}/feedback", protect(feedback))
	mux.Handle("GET /debates/{id}/audit", protect(http.HandlerFunc(debateHandlers.AuditTrail)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"service": ServiceName})
	})

	var handler http.Handler = middleware.CORS(cfg.CORS)(mux)
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(ServiceName)(handler)
	return middleware.RequestID(handler)
}
