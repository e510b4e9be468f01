package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid", "retry-7f3a", nil},
		{"max length", strings.Repeat("k", MaxKeyLength), nil},
		{"empty", "", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
		{"space", "two words", ErrInvalidKey},
		{"non ascii", "clé", ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestScope_SeparatesIdentities(t *testing.T) {
	a := Scope("alice", "POST", "/debates/1/feedback", "k1")
	b := Scope("bob", "POST", "/debates/1/feedback", "k1")
	if a == b {
		t.Error("different identities must produce different scopes")
	}
}

func testRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	scope := Scope("alice", "POST", "/debates/1/feedback", "k-"+time.Now().Format("150405.000000000"))

	if _, err := repo.Get(ctx, scope); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	rec := &Record{Scope: scope, Method: "POST", Route: "/debates/1/feedback", StatusCode: 204}
	if err := repo.Store(ctx, rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := repo.Store(ctx, rec); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Store error = %v, want ErrKeyExists", err)
	}

	got, err := repo.Get(ctx, scope)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StatusCode != 204 || got.CreatedAt.IsZero() {
		t.Errorf("Get = %+v", got)
	}

	if err := repo.Store(ctx, &Record{}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Store(empty scope) error = %v, want ErrInvalidKey", err)
	}
}

func TestInMemoryRepository(t *testing.T) {
	testRepository(t, NewInMemoryRepository())
}

func TestInMemoryRepository_Cleanup(t *testing.T) {
	repo := NewInMemoryRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	_ = repo.Store(ctx, &Record{Scope: "old", CreatedAt: now.Add(-25 * time.Hour)})
	_ = repo.Store(ctx, &Record{Scope: "fresh", CreatedAt: now.Add(-time.Hour)})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deleted, err := CleanupOldKeys(ctx, repo, DefaultExpiry, logger)
	if err != nil {
		t.Fatalf("CleanupOldKeys: %v", err)
	}
	if deleted != 1 || repo.Len() != 1 {
		t.Errorf("deleted = %d, remaining = %d; want 1 and 1", deleted, repo.Len())
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh record was removed: %v", err)
	}
}

func TestRedisRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { _ = client.Close() })

	testRepository(t, NewRedisRepository(client, time.Minute))
}
