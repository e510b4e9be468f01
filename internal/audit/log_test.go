package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/middleware"
)

func entry(debateID, action string) Entry {
	return Entry{DebateID: debateID, Actor: "mod", Action: action, Outcome: OutcomeSuccess}
}

func TestInMemoryLog_AppendValidation(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{"valid", entry("d1", "kick"), nil},
		{"missing debate", Entry{Action: "kick", Outcome: OutcomeSuccess}, ErrInvalidDebateID},
		{"missing action", Entry{DebateID: "d1", Outcome: OutcomeSuccess}, ErrInvalidAction},
		{"unknown outcome", Entry{DebateID: "d1", Action: "kick", Outcome: "maybe"}, ErrInvalidOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewInMemoryLog(0)
			_, err := l.Append(context.Background(), tt.entry)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Append() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInMemoryLog_HashChain(t *testing.T) {
	l := NewInMemoryLog(0)
	ctx := context.Background()

	first, err := l.Append(ctx, entry("d1", "start"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.PreviousHash != "" {
		t.Errorf("first PreviousHash = %q, want empty", first.PreviousHash)
	}
	if l.LastHash() == "" {
		t.Fatal("LastHash() empty after append")
	}

	second, err := l.Append(ctx, entry("d1", "mute"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if second.PreviousHash != first.hash() {
		t.Error("second record does not link to the first")
	}

	if ok, err := l.VerifyHashChain(); !ok || err != nil {
		t.Errorf("VerifyHashChain() = %v, %v; want valid", ok, err)
	}

	// Returned records are copies.
	second.Actor = "mallory"
	if ok, err := l.VerifyHashChain(); !ok || err != nil {
		t.Errorf("editing a returned copy broke the chain: %v", err)
	}

	l.records[0].Target = "edited"
	if ok, err := l.VerifyHashChain(); ok || err == nil {
		t.Error("VerifyHashChain() = valid after tampering, want broken")
	}
}

func TestInMemoryLog_VerifyEmpty(t *testing.T) {
	ok, err := NewInMemoryLog(0).VerifyHashChain()
	if !ok || err != nil {
		t.Errorf("VerifyHashChain() on empty log = %v, %v; want valid", ok, err)
	}
}

func TestInMemoryLog_ByDebate(t *testing.T) {
	l := NewInMemoryLog(0)
	ctx := context.Background()
	for _, e := range []Entry{entry("d1", "start"), entry("d2", "start"), entry("d1", "kick"), entry("d1", "endDebate")} {
		if _, err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := l.ByDebate(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("ByDebate() error = %v", err)
	}
	want := []string{"endDebate", "kick", "start"}
	if len(got) != len(want) {
		t.Fatalf("ByDebate() returned %d records, want %d", len(got), len(want))
	}
	for i, r := range got {
		if r.Action != want[i] {
			t.Errorf("record %d action = %q, want %q", i, r.Action, want[i])
		}
	}

	limited, _ := l.ByDebate(ctx, "d1", 1)
	if len(limited) != 1 || limited[0].Action != "endDebate" {
		t.Errorf("ByDebate(limit 1) = %+v, want newest only", limited)
	}

	none, _ := l.ByDebate(ctx, "missing", 0)
	if len(none) != 0 {
		t.Errorf("ByDebate(missing) = %d records, want 0", len(none))
	}
}

func TestInMemoryLog_Capacity(t *testing.T) {
	l := NewInMemoryLog(10)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if _, err := l.Append(ctx, entry("d1", fmt.Sprintf("action-%d", i))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if n := l.Len(); n > 10 {
		t.Errorf("Len() = %d, want at most 10", n)
	}
	newest, _ := l.ByDebate(ctx, "d1", 1)
	if newest[0].Action != "action-24" {
		t.Errorf("newest = %q, want action-24", newest[0].Action)
	}
	if ok, err := l.VerifyHashChain(); !ok || err != nil {
		t.Errorf("VerifyHashChain() after trimming = %v, %v", ok, err)
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeSuccess},
		{fmt.Errorf("%w: moderator only", authz.ErrAuthorizationDenied), OutcomeDenied},
		{authz.ErrInvalidTarget, OutcomeDenied},
		{errors.New("store down"), OutcomeFailure},
	}
	for _, tt := range tests {
		if got := OutcomeFor(tt.err); got != tt.want {
			t.Errorf("OutcomeFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLogAction(t *testing.T) {
	l := NewInMemoryLog(0)
	ctx := middleware.SetRequestID(context.Background(), "req-42")

	denied := fmt.Errorf("%w: kick: moderator only", authz.ErrAuthorizationDenied)
	rec, err := LogAction(ctx, l, Entry{DebateID: "d1", Actor: "alice", Action: "kick", Target: "bob"}, denied)
	if err != nil {
		t.Fatalf("LogAction() error = %v", err)
	}
	if rec.Outcome != OutcomeDenied || !strings.Contains(rec.Reason, "moderator only") {
		t.Errorf("record = %+v, want denied with reason", rec)
	}
	if rec.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want req-42", rec.RequestID)
	}

	rec, err = LogAction(ctx, l, Entry{DebateID: "d1", Actor: "mod", Action: "endDebate"}, errors.New("dial tcp: refused"))
	if err != nil {
		t.Fatalf("LogAction() error = %v", err)
	}
	if rec.Outcome != OutcomeFailure || rec.Reason != "" {
		t.Errorf("record = %+v, want failure without reason", rec)
	}

	if _, err := LogAction(ctx, nil, Entry{DebateID: "d1", Action: "start"}, nil); !errors.Is(err, ErrNilLog) {
		t.Errorf("LogAction(nil log) error = %v, want ErrNilLog", err)
	}
}
