package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_Allow(t *testing.T) {
	tests := []struct {
		name         string
		requestCount int
		limit        int
		wantAllowed  []bool
	}{
		{
			name:         "allows hits under limit",
			requestCount: 3,
			limit:        5,
			wantAllowed:  []bool{true, true, true},
		},
		{
			name:         "blocks hits at limit",
			requestCount: 6,
			limit:        5,
			wantAllowed:  []bool{true, true, true, true, true, false},
		},
		{
			name:         "single hit limit",
			requestCount: 3,
			limit:        1,
			wantAllowed:  []bool{true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryStore()
			cfg := PerMinute(tt.limit)
			ctx := context.Background()

			for i := 0; i < tt.requestCount; i++ {
				allowed, retryAfter := store.Allow(ctx, "test-key", cfg)
				if allowed != tt.wantAllowed[i] {
					t.Errorf("hit %d: got allowed=%v, want %v", i+1, allowed, tt.wantAllowed[i])
				}
				if !allowed && (retryAfter < 1 || retryAfter > 60) {
					t.Errorf("hit %d: retryAfter = %d, want 1..60", i+1, retryAfter)
				}
			}
		})
	}
}

func TestInMemoryStore_WindowReset(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	cfg := Config{RequestsPerWindow: 1, WindowDuration: time.Second}
	ctx := context.Background()

	if ok, _ := store.Allow(ctx, "k", cfg); !ok {
		t.Fatal("first hit should be allowed")
	}
	if ok, _ := store.Allow(ctx, "k", cfg); ok {
		t.Fatal("second hit should be blocked")
	}

	now = now.Add(2 * time.Second)
	if ok, _ := store.Allow(ctx, "k", cfg); !ok {
		t.Error("hit after window reset should be allowed")
	}

	now = now.Add(2 * time.Second)
	store.Cleanup()
	if store.Len() != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", store.Len())
	}
}

func TestInMemoryStore_IndependentKeys(t *testing.T) {
	store := NewInMemoryStore()
	cfg := PerMinute(1)
	ctx := context.Background()

	if ok, _ := store.Allow(ctx, "a", cfg); !ok {
		t.Error("a should be allowed")
	}
	if ok, _ := store.Allow(ctx, "b", cfg); !ok {
		t.Error("b should be allowed")
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	store := NewInMemoryStore()
	cfg := PerMinute(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Allow(ctx, "k", cfg); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", PerMinute(10), false},
		{"zero requests", Config{WindowDuration: time.Minute}, true},
		{"zero window", Config{RequestsPerWindow: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
