package vote

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long a debate's voter set is kept in Redis after
// the last vote.
const DefaultRetention = 7 * 24 * time.Hour

// RedisLedger stores each debate's voters in a Redis set, so deduplication
// holds across processes and restarts.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisLedger creates a Redis-backed ledger. A zero retention uses
// DefaultRetention.
func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLedger{client: client, retention: retention}
}

func votersKey(debateID string) string {
	return "debatecast:voters:" + debateID
}

func (l *RedisLedger) MarkVoted(ctx context.Context, debateID, identity string) (bool, error) {
	key := votersKey(debateID)

	pipe := l.client.TxPipeline()
	added := pipe.SAdd(ctx, key, identity)
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("record voter: %w", err)
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) Unmark(ctx context.Context, debateID, identity string) error {
	if err := l.client.SRem(ctx, votersKey(debateID), identity).Err(); err != nil {
		return fmt.Errorf("remove voter: %w", err)
	}
	return nil
}

func (l *RedisLedger) HasVoted(ctx context.Context, debateID, identity string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, votersKey(debateID), identity).Result()
	if err != nil {
		return false, fmt.Errorf("check voter: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Clear(ctx context.Context, debateID string) error {
	if err := l.client.Del(ctx, votersKey(debateID)).Err(); err != nil {
		return fmt.Errorf("clear voters: %w", err)
	}
	return nil
}
