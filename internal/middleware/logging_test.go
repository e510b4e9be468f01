package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	Identity  string `json:"identity"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/debates/d1/session", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseEntry(t, buf)
	if entry.Method != http.MethodGet {
		t.Errorf("expected method GET, got %s", entry.Method)
	}
	if entry.Path != "/debates/d1/session" {
		t.Errorf("expected path /debates/d1/session, got %s", entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != len("hello") {
		t.Errorf("expected size 5, got %d", entry.Size)
	}
	if entry.RequestID != "req-1" {
		t.Errorf("expected request_id req-1, got %q", entry.RequestID)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
}

func TestLogging_HandlerContextValues(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetIdentity(r.Context(), "alice")
		ctx = SetErrorCode(ctx, "authorization_denied")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusForbidden)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/debates/d1/feedback", nil))

	entry := parseEntry(t, buf)
	if entry.Identity != "alice" {
		t.Errorf("expected identity alice, got %q", entry.Identity)
	}
	if entry.ErrorCode != "authorization_denied" {
		t.Errorf("expected error_code authorization_denied, got %q", entry.ErrorCode)
	}
	if entry.Level != "WARN" {
		t.Errorf("expected level WARN, got %s", entry.Level)
	}
}

func TestLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			if got := parseEntry(t, buf).Level; got != tt.level {
				t.Errorf("level = %s, want %s", got, tt.level)
			}
		})
	}
}

func TestLogging_ErrorCodeOnlyOnErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		UpdateResponseContext(w, SetErrorCode(r.Context(), "stale"))
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if code := parseEntry(t, buf).ErrorCode; code != "" {
		t.Errorf("expected no error_code on 200, got %q", code)
	}
}

func TestUpdateResponseContext_ThroughMetricsWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		UpdateResponseContext(w, SetErrorCode(r.Context(), "not_found"))
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Logging(newTestLogger(buf))(HTTPMetrics(NewMetrics())(inner))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/debates/x/session", nil))

	if code := parseEntry(t, buf).ErrorCode; code != "not_found" {
		t.Errorf("expected error_code not_found, got %q", code)
	}
}

func TestUpdateResponseContext_NoLogging(t *testing.T) {
	// Must not panic when no logging writer is in the chain.
	UpdateResponseContext(httptest.NewRecorder(), SetErrorCode(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "x"))
}

func TestLogging_Hijack(t *testing.T) {
	buf := &bytes.Buffer{}
	logged := make(chan struct{})
	logging := Logging(newTestLogger(buf))(HTTPMetrics(NewMetrics())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, rw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack() error = %v", err)
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 101 Switching Protocols\r\n\r\n")
		_ = rw.Flush()
	})))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(logged)
		logging.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn, err := net.Dial("tcp", strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_, _ = conn.Write([]byte("GET /debates/d1/ws HTTP/1.1\r\nHost: x\r\n\r\n"))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(line, "101") {
		t.Fatalf("expected 101 status line, got %q", line)
	}
	<-logged

	if got := parseEntry(t, buf).Status; got != http.StatusSwitchingProtocols {
		t.Errorf("logged status = %d, want 101", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		if NewLogger(env) == nil {
			t.Errorf("NewLogger(%q) returned nil", env)
		}
	}
}
