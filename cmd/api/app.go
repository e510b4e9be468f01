package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/onnwee/debatecast/internal/api"
	"github.com/onnwee/debatecast/internal/audit"
	"github.com/onnwee/debatecast/internal/auth"
	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/config"
	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/jobs"
	"github.com/onnwee/debatecast/internal/middleware"
	"github.com/onnwee/debatecast/internal/ratelimit"
)

// app is the fully wired coordinator process.
type app struct {
	handler    http.Handler
	manager    *coordinator.Manager
	backends   *backends
	jobMetrics *jobs.Metrics
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	coordMetrics := coordinator.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{coordMetrics.Register, httpMetrics.Register, jobMetrics.Register} {
		if err := register(reg); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	manager := coordinator.NewManager(coordinator.Config{
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		EmptyGrace:        cfg.SessionGrace,
		QueueSize:         cfg.SubscriberQueueSize,
		ReconcileInterval: cfg.ReconcileInterval,
		ChatMaxLength:     cfg.ChatMaxLength,
		ChatRate:          ratelimit.PerMinute(cfg.ChatRatePerMinute),
		Lobby: authz.LobbyPolicy{
			Chat:      cfg.LobbyChatEnabled,
			Reactions: cfg.LobbyReactionsEnabled,
			Voting:    cfg.LobbyVotingEnabled,
		},
	}, coordinator.Deps{
		Store:   b.store,
		Rooms:   b.rooms,
		Tokens:  b.tokens,
		Ledger:  b.ledger,
		Limiter: b.limiter,
		Audit:   audit.NewInMemoryLog(audit.DefaultCapacity),
		Metrics: coordMetrics,
		Logger:  logger,
	})

	jwtService := auth.NewJWTService(cfg.JWTSecret, auth.WithPreviousSecret(cfg.JWTPreviousSecret))
	corsCfg := middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}

	handler := api.NewRouter(api.RouterConfig{
		Manager:     manager,
		Validator:   jwtService,
		Logger:      logger,
		Checkers:    b.checkers,
		Metrics:     httpMetrics,
		Gatherer:    reg,
		Limiter:     b.limiter,
		RateLimit:   middleware.DefaultGlobalLimit(),
		Idempotency: b.idem,
		CORS:        corsCfg,
		Socket: api.SocketConfig{
			// Pongs refresh the heartbeat; pings go out at 9/10 of this.
			PongWait:    cfg.HeartbeatTimeout,
			CheckOrigin: corsCfg.OriginAllowed,
		},
	})

	return &app{handler: handler, manager: manager, backends: b, jobMetrics: jobMetrics}, nil
}
