package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/debatecast/internal/config"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/health"
	"github.com/onnwee/debatecast/internal/idempotency"
	"github.com/onnwee/debatecast/internal/jobs"
	"github.com/onnwee/debatecast/internal/livekit"
	"github.com/onnwee/debatecast/internal/ratelimit"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/vote"
)

const (
	connectTimeout = 10 * time.Second
	voteRetention  = 7 * 24 * time.Hour
)

// backends are the external collaborators of the coordinator. Each one
// falls back to an in-memory implementation when it is not configured.
type backends struct {
	store    debate.Store
	rooms    room.Provider
	tokens   room.TokenIssuer
	ledger   vote.Ledger
	limiter  ratelimit.Store
	idem     idempotency.Repository
	checkers map[string]health.Checker

	// memLimiter and memIdem are set when rate limits and idempotent
	// responses are kept in process and need periodic cleanup.
	memLimiter *ratelimit.InMemoryStore
	memIdem    *idempotency.InMemoryRepository

	closers []func() error
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{checkers: map[string]health.Checker{
		"database": nil,
		"redis":    nil,
		"livekit":  nil,
	}}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		pg := debate.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		b.store = pg
		b.checkers["database"] = health.NewDBChecker(db)
		logger.Info("debate store: postgres")
	} else {
		b.store = debate.NewInMemoryStore()
		logger.Warn("debate store: in-memory, debates are lost on restart")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.ledger = vote.NewRedisLedger(client, voteRetention)
		b.limiter = ratelimit.NewRedisStore(client, logger)
		b.idem = idempotency.NewRedisRepository(client, idempotency.DefaultExpiry)
		b.checkers["redis"] = health.NewRedisChecker(client)
		logger.Info("vote ledger, rate limits and idempotency keys: redis")
	} else {
		b.ledger = vote.NewInMemoryLedger()
		b.memLimiter = ratelimit.NewInMemoryStore()
		b.limiter = b.memLimiter
		b.memIdem = idempotency.NewInMemoryRepository()
		b.idem = b.memIdem
		logger.Info("vote ledger, rate limits and idempotency keys: in-memory")
	}

	if cfg.LiveKitConfigured() {
		tokens, err := livekit.NewTokenService(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		if err != nil {
			return nil, fmt.Errorf("livekit token service: %w", err)
		}
		b.rooms = livekit.NewRoomService(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		b.tokens = tokens
		b.checkers["livekit"] = health.NewLiveKitChecker(cfg.LiveKitURL)
		logger.Info("room provider: livekit", slog.String("url", cfg.LiveKitURL))
	} else {
		b.rooms = room.NewInMemoryProvider()
		logger.Warn("room provider: in-memory, no video is available")
	}

	return b, nil
}

// sweep drops idle in-memory rate limit buckets and expired idempotent
// responses every interval until ctx ends. Redis expires both on its own.
func (b *backends) sweep(ctx context.Context, every time.Duration, metrics *jobs.Metrics, logger *slog.Logger) {
	var wg sync.WaitGroup
	if b.memLimiter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs.Every(ctx, jobs.JobTypeLimiterSweep, every, func(context.Context) error {
				b.memLimiter.Cleanup()
				return nil
			}, metrics, logger)
		}()
	}
	if b.memIdem != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs.Every(ctx, jobs.JobTypeIdempotencyCleanup, every, func(ctx context.Context) error {
				_, err := idempotency.CleanupOldKeys(ctx, b.memIdem, idempotency.DefaultExpiry, logger)
				return err
			}, metrics, logger)
		}()
	}
	wg.Wait()
}

// Close releases every opened connection in reverse order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
