package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/debatecast/internal/audit"
	"github.com/onnwee/debatecast/internal/authz"
)

func TestManager_AuditTrail(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := f.createDebate(t, allFeatures)

	mod := f.join(t, id, "mod")
	f.join(t, id, "pro")
	alice := f.join(t, id, "alice")

	if err := f.m.Kick(ctx, id, alice.Connection.ConnectionID, "pro"); !errors.Is(err, authz.ErrAuthorizationDenied) {
		t.Fatalf("audience kick error = %v, want denied", err)
	}
	if err := f.m.Mute(ctx, id, mod.Connection.ConnectionID, "pro"); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	if err := f.m.Mute(ctx, id, mod.Connection.ConnectionID, "ghost"); !errors.Is(err, authz.ErrInvalidTarget) {
		t.Fatalf("Mute(ghost) error = %v, want invalid target", err)
	}
	if _, err := f.m.Start(ctx, id, mod.Connection.ConnectionID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.m.End(ctx, id, mod.Connection.ConnectionID); err != nil {
		t.Fatalf("End: %v", err)
	}

	records, err := f.m.AuditTrail(ctx, id, "mod", 0)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}

	want := []struct {
		action  authz.Action
		actor   string
		target  string
		outcome audit.Outcome
	}{
		{authz.ActionEnd, "mod", "", audit.OutcomeSuccess},
		{authz.ActionStart, "mod", "", audit.OutcomeSuccess},
		{authz.ActionMute, "mod", "ghost", audit.OutcomeDenied},
		{authz.ActionMute, "mod", "pro", audit.OutcomeSuccess},
		{authz.ActionKick, "alice", "pro", audit.OutcomeDenied},
	}
	if len(records) != len(want) {
		t.Fatalf("AuditTrail returned %d records, want %d: %+v", len(records), len(want), records)
	}
	for i, w := range want {
		r := records[i]
		if r.Action != string(w.action) || r.Actor != w.actor || r.Target != w.target || r.Outcome != w.outcome {
			t.Errorf("record %d = {%s %s %s %s}, want {%s %s %s %s}",
				i, r.Action, r.Actor, r.Target, r.Outcome, w.action, w.actor, w.target, w.outcome)
		}
	}
	if records[4].Reason == "" {
		t.Error("denied record should keep its reason")
	}
}

func TestManager_AuditTrail_ModeratorOnly(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.createDebate(t, allFeatures)

	if _, err := f.m.AuditTrail(context.Background(), id, "alice", 0); !errors.Is(err, authz.ErrAuthorizationDenied) {
		t.Errorf("AuditTrail(alice) error = %v, want denied", err)
	}
	records, err := f.m.AuditTrail(context.Background(), id, "mod", 0)
	if err != nil {
		t.Fatalf("AuditTrail(mod): %v", err)
	}
	if len(records) != 0 {
		t.Errorf("fresh debate has %d audit records, want 0", len(records))
	}
}
