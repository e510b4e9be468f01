package health

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRunAll(t *testing.T) {
	boom := errors.New("boom")
	results := RunAll(context.Background(), map[string]Checker{
		"redis":    CheckerFunc(func(context.Context) error { return nil }),
		"database": CheckerFunc(func(context.Context) error { return boom }),
		"livekit":  nil,
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "database" || !errors.Is(results[0].Err, boom) {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Name != "redis" || results[1].Err != nil {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestDBChecker_Creation(t *testing.T) {
	db := &sql.DB{}
	checker := NewDBChecker(db)
	if checker.db != db {
		t.Error("expected checker db to match provided db")
	}
}

func TestLiveKitChecker_Creation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://livekit.example.com", "https://livekit.example.com"},
		{"wss://livekit.example.com", "https://livekit.example.com"},
		{"ws://localhost:7880", "http://localhost:7880"},
	}
	for _, tt := range tests {
		checker := NewLiveKitChecker(tt.in)
		if checker.url != tt.want {
			t.Errorf("NewLiveKitChecker(%q).url = %q, want %q", tt.in, checker.url, tt.want)
		}
		if checker.client == nil || checker.client.Timeout == 0 {
			t.Error("expected HTTP client with timeout")
		}
	}
}

func TestLiveKitChecker_EmptyURL(t *testing.T) {
	err := NewLiveKitChecker("").HealthCheck(context.Background())
	if !errors.Is(err, ErrLiveKitURLMissing) {
		t.Errorf("expected ErrLiveKitURLMissing, got %v", err)
	}
}

func TestLiveKitChecker_Responses(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"200 OK", http.StatusOK, false},
		{"404 Not Found", http.StatusNotFound, true},
		{"500 Internal Server Error", http.StatusInternalServerError, true},
		{"503 Service Unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := NewLiveKitChecker(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLiveKitChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewLiveKitChecker(server.URL).HealthCheck(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	checker := NewRedisChecker(client)
	if checker.client != client {
		t.Error("expected checker client to match provided client")
	}
	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable Redis")
	}
}
