package ratelimit

import (
	"context"
	"log/slog"
	"math"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate limit counters in a shared Redis.
const keyPrefix = "debatecast:rl:"

// RedisStore implements Store with INCR and a window-length expiry, so the
// limit is shared by every process using the same Redis.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

// Allow implements Store. A Redis failure fails open: the hit is allowed and
// the error is logged, so a cache outage never silences chat.
func (s *RedisStore) Allow(ctx context.Context, key string, cfg Config) (bool, int) {
	k := keyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, cfg.WindowDuration)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WarnContext(ctx, "rate limit check failed, allowing",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, 0
	}

	if incr.Val() <= int64(cfg.RequestsPerWindow) {
		return true, 0
	}
	retryAfter := int(math.Ceil(ttl.Val().Seconds()))
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}
