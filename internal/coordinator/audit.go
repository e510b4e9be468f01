package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/debatecast/internal/audit"
	"github.com/onnwee/debatecast/internal/authz"
)

// audited resolves the acting identity before a moderator action runs,
// since End and Cancel close the session, and returns the func that records
// the action's outcome.
func (m *Manager) audited(ctx context.Context, debateID, connID string, action authz.Action, target string) func(error) {
	var actorID string
	if c, err := m.registry.Connection(debateID, connID); err == nil {
		actorID = c.Identity
	}
	return func(err error) {
		entry := audit.Entry{
			DebateID: debateID,
			Actor:    actorID,
			Action:   string(action),
			Target:   target,
		}
		if _, aerr := audit.LogAction(context.WithoutCancel(ctx), m.audit, entry, err); aerr != nil {
			m.logger.WarnContext(ctx, "audit record failed",
				slog.String("debate_id", debateID),
				slog.String("action", string(action)),
				slog.String("error", aerr.Error()),
			)
		}
	}
}

// AuditTrail returns the moderation records of a debate, newest first.
// Only the debate's moderator may read them.
func (m *Manager) AuditTrail(ctx context.Context, debateID, identity string, limit int) ([]*audit.Record, error) {
	d, err := m.loadDebate(ctx, debateID)
	if err != nil {
		return nil, err
	}
	if d.Moderator != identity {
		return nil, fmt.Errorf("%w: audit trail is moderator only", authz.ErrAuthorizationDenied)
	}
	records, err := m.audit.ByDebate(ctx, debateID, limit)
	if err != nil {
		return nil, unavailable("read audit trail", err)
	}
	return records, nil
}
