package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/onnwee/debatecast/internal/idempotency"
)

func TestIdempotency(t *testing.T) {
	var calls atomic.Int32
	status := http.StatusCreated
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := idempotency.NewInMemoryRepository()
	handler := Idempotency(repo, logger)(next)

	do := func(identity, method, path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		req = req.WithContext(SetIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("alice", http.MethodPost, "/debates/1/feedback", "k1")
	if first.Code != http.StatusCreated || calls.Load() != 1 {
		t.Fatalf("first call: status %d, calls %d", first.Code, calls.Load())
	}

	replay := do("alice", http.MethodPost, "/debates/1/feedback", "k1")
	if calls.Load() != 1 {
		t.Error("replayed request reached the handler")
	}
	if replay.Code != http.StatusCreated || replay.Body.String() != `{"ok":true}` {
		t.Errorf("replay = %d %q", replay.Code, replay.Body.String())
	}
	if replay.Header().Get(IdempotentReplayHeader) != "true" {
		t.Error("replay missing Idempotent-Replayed header")
	}
	if ct := replay.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("replay Content-Type = %q", ct)
	}

	t.Run("key is scoped to identity and path", func(t *testing.T) {
		before := calls.Load()
		do("bob", http.MethodPost, "/debates/1/feedback", "k1")
		do("alice", http.MethodPost, "/debates/2/feedback", "k1")
		if got := calls.Load() - before; got != 2 {
			t.Errorf("handler calls = %d, want 2", got)
		}
	})

	t.Run("no key passes through", func(t *testing.T) {
		before := calls.Load()
		do("alice", http.MethodPost, "/debates/1/feedback", "")
		do("alice", http.MethodPost, "/debates/1/feedback", "")
		if got := calls.Load() - before; got != 2 {
			t.Errorf("handler calls = %d, want 2", got)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"has space", strings.Repeat("x", idempotency.MaxKeyLength+1)} {
			if rec := do("alice", http.MethodPost, "/debates/1/feedback", key); rec.Code != http.StatusBadRequest {
				t.Errorf("key %q: status %d, want 400", key, rec.Code)
			}
		}
	})

	t.Run("failures are not stored", func(t *testing.T) {
		status = http.StatusServiceUnavailable
		do("alice", http.MethodPost, "/debates/3/feedback", "k2")
		status = http.StatusNoContent
		before := calls.Load()
		rec := do("alice", http.MethodPost, "/debates/3/feedback", "k2")
		if calls.Load()-before != 1 || rec.Code != http.StatusNoContent {
			t.Errorf("retry after failure: status %d, calls %d", rec.Code, calls.Load()-before)
		}
	})
}
