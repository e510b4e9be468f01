package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/broadcast"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/session"
	"github.com/onnwee/debatecast/internal/tracing"
	"github.com/onnwee/debatecast/internal/validate"
)

// StartResult reports the outcome of a start.
type StartResult struct {
	AlreadyLive bool
	Room        room.Handle
	// RoomErr is set when the room could not be created. The debate is live
	// regardless and the room is retried on the next join or reconcile.
	RoomErr error
}

// Start flips the debate to live and makes sure its room exists. Starting a
// live debate is a no-op.
func (m *Manager) Start(ctx context.Context, debateID, connID string) (_ *StartResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.start", attribute.String("debate.id", debateID))
	defer func() { end(err) }()
	record := m.audited(ctx, debateID, connID, authz.ActionStart, "")
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionStart)
	if err != nil {
		return nil, err
	}

	res := &StartResult{AlreadyLive: a.state.Status == debate.StatusLive}
	h, rerr := m.ensureRoom(ctx, debateID)
	res.RoomErr = rerr

	if !res.AlreadyLive {
		if err := m.store.SetStatus(ctx, debateID, debate.StatusLive); err != nil {
			return nil, unavailable("set status live", err)
		}
	}

	a.lc.mu.Lock()
	if a.lc.terminal() {
		a.lc.mu.Unlock()
		return nil, session.ErrSessionClosed
	}
	a.lc.debate.Status = debate.StatusLive
	if rerr == nil {
		a.lc.handle = h
	}
	a.lc.promote()
	res.Room = a.lc.handle
	a.lc.mu.Unlock()

	if !res.AlreadyLive {
		m.publish(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{Type: broadcast.ActionStart}))
		m.logger.InfoContext(ctx, "debate started", slog.String("debate_id", debateID))
	}
	return res, nil
}

// EndResult reports the final outcome of a debate.
type EndResult struct {
	Winner *debate.Winner
	Tally  debate.Tally
}

// End completes a live debate: it fixes the final tally, persists the winner
// and status, ends the room and tears the session down after broadcasting
// endDebate.
func (m *Manager) End(ctx context.Context, debateID, connID string) (_ *EndResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.end", attribute.String("debate.id", debateID))
	defer func() { end(err) }()
	record := m.audited(ctx, debateID, connID, authz.ActionEnd, "")
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionEnd)
	if err != nil {
		return nil, err
	}

	// Wait out in-flight votes, then refuse new ones.
	a.lc.tally.Lock()
	a.lc.mu.Lock()
	if a.lc.terminal() {
		a.lc.mu.Unlock()
		a.lc.tally.Unlock()
		return nil, session.ErrSessionClosed
	}
	prev := a.lc.state
	a.lc.state = StateEnding
	a.lc.mu.Unlock()
	a.lc.tally.Unlock()

	revert := func() {
		a.lc.mu.Lock()
		a.lc.state = prev
		a.lc.mu.Unlock()
	}

	d, err := m.loadDebate(ctx, debateID)
	if err != nil {
		revert()
		return nil, err
	}
	winner := debate.ComputeWinner(d.Features, d.Votes)
	if winner != nil {
		if err := m.store.SetWinner(ctx, debateID, *winner); err != nil {
			revert()
			return nil, unavailable("set winner", err)
		}
	}
	if err := m.store.SetStatus(ctx, debateID, debate.StatusCompleted); err != nil {
		revert()
		return nil, unavailable("set status completed", err)
	}

	m.endRoom(ctx, debateID)

	tally := d.Votes
	m.teardown(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{
		Type:   broadcast.ActionEndDebate,
		Winner: winner,
		Tally:  &tally,
	}))

	attrs := []any{slog.String("debate_id", debateID), slog.Int("votes_for", tally.For), slog.Int("votes_against", tally.Against)}
	if winner != nil {
		attrs = append(attrs, slog.String("winner", string(*winner)))
	}
	m.logger.InfoContext(ctx, "debate ended", attrs...)
	return &EndResult{Winner: winner, Tally: tally}, nil
}

// Cancel calls off a debate that has not started and tears its session down.
func (m *Manager) Cancel(ctx context.Context, debateID, connID string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.cancel", attribute.String("debate.id", debateID))
	defer func() { end(err) }()
	record := m.audited(ctx, debateID, connID, authz.ActionCancel, "")
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionCancel)
	if err != nil {
		return err
	}

	a.lc.mu.Lock()
	if a.lc.terminal() {
		a.lc.mu.Unlock()
		return session.ErrSessionClosed
	}
	prev := a.lc.state
	a.lc.state = StateEnding
	a.lc.mu.Unlock()

	if err := m.store.SetStatus(ctx, debateID, debate.StatusCancelled); err != nil {
		a.lc.mu.Lock()
		a.lc.state = prev
		a.lc.mu.Unlock()
		return unavailable("set status cancelled", err)
	}

	m.endRoom(ctx, debateID)
	m.teardown(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{Type: broadcast.ActionCancel}))
	m.logger.InfoContext(ctx, "debate cancelled", slog.String("debate_id", debateID))
	return nil
}

// target resolves and validates the target of a moderator action.
func (m *Manager) target(debateID string, a actor, action authz.Action, identity string) (session.ConnectedParticipant, error) {
	snap, _ := m.registry.Get(debateID)
	t, found := snap.ByIdentity(identity)
	if err := authz.CheckTarget(action, a.conn.Identity, t, found); err != nil {
		return session.ConnectedParticipant{}, err
	}
	return t, nil
}

// Kick disconnects identity's media, removes its connection and broadcasts
// the kick to everyone, the target included, before closing its stream.
func (m *Manager) Kick(ctx context.Context, debateID, connID, identity string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.kick", attribute.String("debate.id", debateID))
	defer func() { end(err) }()
	record := m.audited(ctx, debateID, connID, authz.ActionKick, identity)
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionKick)
	if err != nil {
		return err
	}
	t, err := m.target(debateID, a, authz.ActionKick, identity)
	if err != nil {
		return err
	}

	if err := m.rooms.DisconnectParticipant(ctx, room.Key(debateID), identity); err != nil {
		if !errors.Is(err, room.ErrParticipantNotFound) && !errors.Is(err, room.ErrRoomNotFound) {
			m.metrics.incProviderError("disconnect_participant")
		}
		m.logger.WarnContext(ctx, "media disconnect failed during kick",
			slog.String("debate_id", debateID),
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}

	removed, err := m.registry.RemoveIdentity(debateID, identity)
	if err != nil {
		if errors.Is(err, session.ErrConnectionNotFound) {
			return authz.ErrInvalidTarget
		}
		return err
	}

	m.publish(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{
		Type:           broadcast.ActionKick,
		TargetIdentity: identity,
	}))
	m.hub.Unsubscribe(debateID, removed.ConnectionID)

	m.logger.InfoContext(ctx, "participant kicked",
		slog.String("debate_id", debateID),
		slog.String("identity", identity),
		slog.String("role", string(t.Role)),
	)
	return nil
}

// Mute forces a connected target's microphone off, at the provider too when
// it supports server-side muting.
func (m *Manager) Mute(ctx context.Context, debateID, connID, identity string) (err error) {
	record := m.audited(ctx, debateID, connID, authz.ActionMute, identity)
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionMute)
	if err != nil {
		return err
	}
	if _, err := m.target(debateID, a, authz.ActionMute, identity); err != nil {
		return err
	}

	if muter, ok := m.rooms.(room.Muter); ok {
		if err := muter.MuteParticipant(ctx, room.Key(debateID), identity); err != nil {
			if !errors.Is(err, room.ErrParticipantNotFound) && !errors.Is(err, room.ErrRoomNotFound) {
				m.metrics.incProviderError("mute_participant")
			}
			m.logger.WarnContext(ctx, "media mute failed",
				slog.String("debate_id", debateID),
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := m.registry.Mutate(debateID, identity, func(p *session.ConnectedParticipant) error {
		p.MicMuted = true
		return nil
	}); err != nil {
		if errors.Is(err, session.ErrConnectionNotFound) {
			return authz.ErrInvalidTarget
		}
		return err
	}

	m.publish(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{
		Type:           broadcast.ActionMute,
		TargetIdentity: identity,
	}))
	return nil
}

// ToggleSpeaking flips a participant's speaking flag, persisting it before
// updating the session.
func (m *Manager) ToggleSpeaking(ctx context.Context, debateID, connID, identity string) (_ bool, err error) {
	record := m.audited(ctx, debateID, connID, authz.ActionToggleSpeaking, identity)
	defer func() { record(err) }()

	a, err := m.authorize(ctx, debateID, connID, authz.ActionToggleSpeaking)
	if err != nil {
		return false, err
	}
	t, err := m.target(debateID, a, authz.ActionToggleSpeaking, identity)
	if err != nil {
		return false, err
	}

	speaking := !t.Speaking
	if err := m.store.SetSpeaking(ctx, debateID, identity, speaking); err != nil {
		if errors.Is(err, debate.ErrParticipantNotFound) {
			return false, authz.ErrInvalidTarget
		}
		return false, unavailable("set speaking", err)
	}

	if _, err := m.registry.Mutate(debateID, identity, func(p *session.ConnectedParticipant) error {
		if p.Role != session.RoleParticipant {
			return authz.ErrInvalidTarget
		}
		p.Speaking = speaking
		return nil
	}); err != nil {
		if errors.Is(err, session.ErrConnectionNotFound) {
			return false, authz.ErrInvalidTarget
		}
		return false, err
	}

	m.publish(debateID, broadcast.NewModeratorAction(broadcast.ModeratorAction{
		Type:           broadcast.ActionToggleSpeaking,
		TargetIdentity: identity,
		Speaking:       &speaking,
	}))
	return speaking, nil
}

// VoteResult reports the tally after a vote.
type VoteResult struct {
	Duplicate bool
	Tally     debate.Tally
}

// Vote counts an audience vote once per identity. A repeated vote succeeds
// without changing the tally or publishing an event.
func (m *Manager) Vote(ctx context.Context, debateID, connID string, position debate.Position) (_ *VoteResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.vote", attribute.String("debate.id", debateID))
	defer func() { end(err) }()

	if !position.Valid() {
		return nil, invalid("position must be for, against or neutral")
	}
	a, err := m.authorize(ctx, debateID, connID, authz.ActionVote)
	if err != nil {
		return nil, err
	}

	a.lc.tally.RLock()
	defer a.lc.tally.RUnlock()
	a.lc.mu.Lock()
	terminal := a.lc.terminal()
	a.lc.mu.Unlock()
	if terminal {
		return nil, session.ErrSessionClosed
	}

	identity := a.conn.Identity
	first, err := m.ledger.MarkVoted(ctx, debateID, identity)
	if err != nil {
		return nil, unavailable("record voter", err)
	}
	if !first {
		d, err := m.loadDebate(ctx, debateID)
		if err != nil {
			return nil, err
		}
		return &VoteResult{Duplicate: true, Tally: d.Votes}, nil
	}

	tally, err := m.store.IncrementVote(ctx, debateID, position)
	if err != nil {
		if uerr := m.ledger.Unmark(ctx, debateID, identity); uerr != nil {
			m.logger.ErrorContext(ctx, "failed to release voter after tally failure",
				slog.String("debate_id", debateID),
				slog.String("identity", identity),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, unavailable("increment vote", err)
	}

	m.metrics.incVote(string(position))
	m.publish(debateID, broadcast.NewVote(position, tally))
	return &VoteResult{Tally: tally}, nil
}

func (m *Manager) allow(ctx context.Context, kind, debateID, identity string) error {
	allowed, retryAfter := m.limiter.Allow(ctx, kind+":"+debateID+":"+identity, m.cfg.ChatRate)
	if !allowed {
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

// Chat publishes a chat message. Text is trimmed and bounded.
func (m *Manager) Chat(ctx context.Context, debateID, connID, text string) error {
	text, err := validate.ChatMessage(text, m.cfg.ChatMaxLength)
	if err != nil {
		return fmt.Errorf("%w: message: %w", ErrValidation, err)
	}
	a, err := m.authorize(ctx, debateID, connID, authz.ActionChat)
	if err != nil {
		return err
	}
	if err := m.allow(ctx, "chat", debateID, a.conn.Identity); err != nil {
		return err
	}
	m.publish(debateID, broadcast.NewChat(a.conn.Identity, text))
	return nil
}

// React publishes a reaction.
func (m *Manager) React(ctx context.Context, debateID, connID, kind string) error {
	if !broadcast.ValidReaction(kind) {
		return invalid("unknown reaction %q", kind)
	}
	a, err := m.authorize(ctx, debateID, connID, authz.ActionReaction)
	if err != nil {
		return err
	}
	if err := m.allow(ctx, "reaction", debateID, a.conn.Identity); err != nil {
		return err
	}
	m.publish(debateID, broadcast.NewReaction(a.conn.Identity, kind))
	return nil
}

// MediaUpdate is a partial update of the caller's own media flags.
type MediaUpdate struct {
	MicMuted *bool `json:"micMuted,omitempty"`
	VideoOff *bool `json:"videoOff,omitempty"`
}

// UpdateMedia applies the caller's mic and video toggles and announces the
// new participant state.
func (m *Manager) UpdateMedia(ctx context.Context, debateID, connID string, u MediaUpdate) (session.ConnectedParticipant, error) {
	if u.MicMuted == nil && u.VideoOff == nil {
		return session.ConnectedParticipant{}, invalid("no media fields set")
	}
	a, err := m.authorize(ctx, debateID, connID, authz.ActionMedia)
	if err != nil {
		return session.ConnectedParticipant{}, err
	}
	p, err := m.registry.Mutate(debateID, a.conn.Identity, func(p *session.ConnectedParticipant) error {
		if u.MicMuted != nil {
			p.MicMuted = *u.MicMuted
		}
		if u.VideoOff != nil {
			p.VideoOff = *u.VideoOff
		}
		return nil
	})
	if err != nil {
		return session.ConnectedParticipant{}, err
	}
	m.publish(debateID, broadcast.NewParticipantUpdated(p))
	return p, nil
}

// Enlist adds an audience member to the persisted roster before the debate
// starts. The participant role applies from the next join.
func (m *Manager) Enlist(ctx context.Context, debateID, connID string, position debate.Position) error {
	if !position.Valid() {
		return invalid("position must be for, against or neutral")
	}
	a, err := m.authorize(ctx, debateID, connID, authz.ActionEnlist)
	if err != nil {
		return err
	}
	if err := m.store.AddParticipant(ctx, debateID, a.conn.Identity, position); err != nil {
		if errors.Is(err, debate.ErrAlreadyParticipant) {
			return invalid("already on the roster")
		}
		return unavailable("add participant", err)
	}
	m.logger.InfoContext(ctx, "audience member enlisted",
		slog.String("debate_id", debateID),
		slog.String("identity", a.conn.Identity),
		slog.String("position", string(position)),
	)
	return nil
}

// Withdraw removes a participant from the persisted roster before the
// debate starts. The audience role applies from the next join.
func (m *Manager) Withdraw(ctx context.Context, debateID, connID string) error {
	a, err := m.authorize(ctx, debateID, connID, authz.ActionWithdraw)
	if err != nil {
		return err
	}
	if err := m.store.RemoveParticipant(ctx, debateID, a.conn.Identity); err != nil {
		if errors.Is(err, debate.ErrParticipantNotFound) {
			return invalid("not on the roster")
		}
		return unavailable("remove participant", err)
	}
	return nil
}

// SubmitFeedback records a rating for a completed debate. It needs no live
// connection.
func (m *Manager) SubmitFeedback(ctx context.Context, debateID, identity string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return debate.ErrInvalidRating
	}
	comment, err := validate.FeedbackComment(comment)
	if err != nil {
		return fmt.Errorf("%w: comment: %w", ErrValidation, err)
	}
	d, err := m.loadDebate(ctx, debateID)
	if err != nil {
		return err
	}
	if d.Status != debate.StatusCompleted {
		return ErrFeedbackClosed
	}
	entry := debate.Feedback{
		Identity: identity,
		Rating:   rating,
		Comment:  comment,
	}
	if err := m.store.AppendFeedback(ctx, debateID, entry); err != nil {
		return unavailable("append feedback", err)
	}
	return nil
}
