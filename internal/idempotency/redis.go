package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "debatecast:idem:"

// RedisRepository implements Repository on Redis. Records expire on their own
// after the configured expiry, so DeleteOlderThan has nothing to do.
type RedisRepository struct {
	client *redis.Client
	expiry time.Duration
}

// NewRedisRepository creates a Redis-backed repository. A non-positive
// expiry means DefaultExpiry.
func NewRedisRepository(client *redis.Client, expiry time.Duration) *RedisRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisRepository{client: client, expiry: expiry}
}

// Get implements Repository.
func (r *RedisRepository) Get(ctx context.Context, scope string) (*Record, error) {
	data, err := r.client.Get(ctx, keyPrefix+scope).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Store implements Repository.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if record.Scope == "" {
		return ErrInvalidKey
	}
	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, keyPrefix+rec.Scope, data, r.expiry).Result()
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan implements Repository.
func (r *RedisRepository) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
