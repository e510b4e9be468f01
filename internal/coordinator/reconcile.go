package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/debatecast/internal/broadcast"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/room"
)

// Run reconciles every open session on the configured interval until ctx is
// done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile compares each open session with the Debate Store and the room
// provider. A debate persisted as completed or cancelled elsewhere has its
// session torn down. A room the provider no longer knows is reset to absent
// and recreated while the debate is live.
func (m *Manager) Reconcile(ctx context.Context) {
	for _, id := range m.registry.DebateIDs() {
		if ctx.Err() != nil {
			return
		}
		m.reconcileOne(ctx, id)
	}
}

func (m *Manager) reconcileOne(ctx context.Context, debateID string) {
	logger := m.logger.With(slog.String("debate_id", debateID))

	d, err := m.store.GetDebate(ctx, debateID)
	switch {
	case errors.Is(err, debate.ErrDebateNotFound):
		logger.WarnContext(ctx, "debate deleted while session open, closing session")
		m.endRoom(ctx, debateID)
		m.teardown(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{Type: broadcast.ActionCancel}))
		return
	case err != nil:
		logger.WarnContext(ctx, "reconcile skipped, debate store unavailable", slog.String("error", err.Error()))
		return
	}

	lc := m.lifecycleFor(debateID)
	lc.mu.Lock()
	if lc.terminal() {
		lc.mu.Unlock()
		return
	}
	lc.observe(d)
	lc.promote()
	handle := lc.handle
	status := lc.debate.Status
	lc.mu.Unlock()

	switch status {
	case debate.StatusCompleted:
		logger.InfoContext(ctx, "debate completed outside the session, closing session")
		m.endRoom(ctx, debateID)
		final := broadcast.ModeratorAction{Type: broadcast.ActionEndDebate, Winner: d.Winner}
		tally := d.Votes
		final.Tally = &tally
		m.teardown(debateID, broadcast.NewModeratorAction(final))
		return
	case debate.StatusCancelled:
		logger.InfoContext(ctx, "debate cancelled outside the session, closing session")
		m.endRoom(ctx, debateID)
		m.teardown(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{Type: broadcast.ActionCancel}))
		return
	}

	observed, err := m.rooms.RoomStatus(ctx, room.Key(debateID))
	if err != nil {
		m.metrics.incProviderError("room_status")
		logger.WarnContext(ctx, "room status unavailable", slog.String("error", err.Error()))
		return
	}

	lc.mu.Lock()
	if lc.terminal() {
		lc.mu.Unlock()
		return
	}
	if observed.Status != room.StatusCreated && handle.Status == room.StatusCreated {
		logger.WarnContext(ctx, "room missing at provider, resetting handle")
		lc.handle = room.Handle{Key: room.Key(debateID), Status: room.StatusAbsent, ObservedAt: observed.ObservedAt}
		if lc.state == StateLive {
			lc.state = StateStarting
		}
	} else if observed.Status == room.StatusCreated {
		lc.handle = observed
		lc.promote()
	}
	recreate := lc.handle.Status != room.StatusCreated && status == debate.StatusLive
	lc.mu.Unlock()

	if recreate {
		if _, err := m.ensureRoom(ctx, debateID); err == nil {
			logger.InfoContext(ctx, "room recreated")
		}
	}
}
