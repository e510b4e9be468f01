package vote

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// exerciseLedger runs the behavior every Ledger must share.
func exerciseLedger(t *testing.T, l Ledger, debateID string) {
	t.Helper()
	ctx := context.Background()

	first, err := l.MarkVoted(ctx, debateID, "alice")
	if err != nil || !first {
		t.Fatalf("first MarkVoted = %v, %v; want true, nil", first, err)
	}
	again, err := l.MarkVoted(ctx, debateID, "alice")
	if err != nil || again {
		t.Fatalf("repeat MarkVoted = %v, %v; want false, nil", again, err)
	}
	if ok, _ := l.HasVoted(ctx, debateID, "alice"); !ok {
		t.Error("HasVoted(alice) = false")
	}
	if ok, _ := l.HasVoted(ctx, debateID, "bob"); ok {
		t.Error("HasVoted(bob) = true")
	}
	if ok, _ := l.HasVoted(ctx, debateID+"-other", "alice"); ok {
		t.Error("vote leaked into another debate")
	}

	if err := l.Unmark(ctx, debateID, "alice"); err != nil {
		t.Fatalf("Unmark: %v", err)
	}
	if first, _ := l.MarkVoted(ctx, debateID, "alice"); !first {
		t.Error("MarkVoted after Unmark should be first")
	}

	if err := l.Clear(ctx, debateID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := l.HasVoted(ctx, debateID, "alice"); ok {
		t.Error("HasVoted after Clear = true")
	}
}

func TestInMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewInMemoryLedger(), "d1")
}

func TestInMemoryLedger_ConcurrentSameIdentity(t *testing.T) {
	l := NewInMemoryLedger()
	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if first, _ := l.MarkVoted(context.Background(), "d1", "alice"); first {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := firsts.Load(); got != 1 {
		t.Errorf("first votes = %d, want 1", got)
	}
}

func TestRedisLedger(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	debateID := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(context.Background(), votersKey(debateID))

	exerciseLedger(t, NewRedisLedger(client, time.Minute), debateID)
}
