// Package coordinator runs live debate sessions. The Manager reconciles the
// persisted debate record with in-memory session state, routes every action
// through the authorization gate and publishes the resulting events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/debatecast/internal/audit"
	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/broadcast"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/ratelimit"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/session"
	"github.com/onnwee/debatecast/internal/tracing"
	"github.com/onnwee/debatecast/internal/vote"
)

// Config holds the tunables of a Manager. Zero values take the defaults
// noted on each field.
type Config struct {
	HeartbeatTimeout  time.Duration    // 30s
	EmptyGrace        time.Duration    // 2m
	QueueSize         int              // 64
	ReconcileInterval time.Duration    // 30s
	ChatMaxLength     int              // 1000 runes
	ChatRate          ratelimit.Config // 30 per minute
	Lobby             authz.LobbyPolicy
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = session.DefaultHeartbeatTimeout
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = session.DefaultEmptyGrace
	}
	if c.QueueSize <= 0 {
		c.QueueSize = broadcast.DefaultQueueSize
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.ChatMaxLength <= 0 {
		c.ChatMaxLength = 1000
	}
	if c.ChatRate.Validate() != nil {
		c.ChatRate = ratelimit.PerMinute(30)
	}
	return c
}

// Deps are the collaborators of a Manager. Store, Rooms, Ledger and Limiter
// are required; Tokens, Audit, Metrics and Logger are optional.
type Deps struct {
	Store   debate.Store
	Rooms   room.Provider
	Tokens  room.TokenIssuer
	Ledger  vote.Ledger
	Limiter ratelimit.Store
	Audit   audit.Log
	Metrics *Metrics
	Logger  *slog.Logger
}

// Manager owns every live session in the process.
type Manager struct {
	cfg      Config
	store    debate.Store
	rooms    room.Provider
	tokens   room.TokenIssuer
	ledger   vote.Ledger
	limiter  ratelimit.Store
	audit    audit.Log
	metrics  *Metrics
	logger   *slog.Logger
	gate     *authz.Gate
	registry *session.Registry
	hub      *broadcast.Hub

	lifecycles sync.Map // debate id -> *lifecycle
	roomCalls  singleflight.Group
}

// NewManager wires a Manager from its collaborators.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		store:   deps.Store,
		rooms:   deps.Rooms,
		tokens:  deps.Tokens,
		ledger:  deps.Ledger,
		limiter: deps.Limiter,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		gate:    authz.NewGate(cfg.Lobby),
	}
	if m.audit == nil {
		m.audit = audit.NewInMemoryLog(0)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.registry = session.NewRegistry(session.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		EmptyGrace:       cfg.EmptyGrace,
		OnEvict:          m.onEvict,
		OnReclaim:        m.onReclaim,
	}, m.logger)
	m.hub = broadcast.NewHub(broadcast.Options{
		QueueSize: cfg.QueueSize,
		OnDrop:    func(_ string, n int) { m.metrics.incDropped(n) },
	})
	return m
}

// Gate returns the manager's authorization gate.
func (m *Manager) Gate() *authz.Gate { return m.gate }

func (m *Manager) lifecycleFor(debateID string) *lifecycle {
	v, _ := m.lifecycles.LoadOrStore(debateID, newLifecycle(debateID))
	return v.(*lifecycle)
}

func (m *Manager) publish(debateID string, ev broadcast.Event) broadcast.Event {
	ev = m.hub.Publish(debateID, ev)
	m.metrics.incPublished(string(ev.Type))
	return ev
}

func (m *Manager) onEvict(debateID string, p session.ConnectedParticipant) {
	m.hub.Unsubscribe(debateID, p.ConnectionID)
	m.publish(debateID, broadcast.NewPresence(p.Identity, p.Role, broadcast.PresenceLeft))
	m.metrics.incEviction()
}

func (m *Manager) onReclaim(debateID string) {
	if _, ok := m.registry.Get(debateID); ok {
		return
	}
	m.hub.CloseTopic(debateID)
	m.lifecycles.Delete(debateID)
	m.metrics.setSessionsActive(m.registry.Len())
	m.logger.Info("session reclaimed after grace window", slog.String("debate_id", debateID))
}

// loadDebate reads a debate, separating not-found from store outages.
func (m *Manager) loadDebate(ctx context.Context, debateID string) (*debate.Debate, error) {
	d, err := m.store.GetDebate(ctx, debateID)
	if err != nil {
		if errors.Is(err, debate.ErrDebateNotFound) {
			return nil, err
		}
		return nil, unavailable("load debate", err)
	}
	return d, nil
}

// JoinResult is everything a client needs after a successful join.
type JoinResult struct {
	Connection   session.ConnectedParticipant
	Snapshot     session.Snapshot
	Subscription *broadcast.Subscription
	Status       debate.Status
	Features     debate.Features
	Room         room.Handle
	RoomToken    *room.Token
	// RoomErr is set when the video room could not be prepared. The
	// connection is registered regardless and the client may retry media.
	RoomErr error
}

// Join resolves identity's role from the Debate Store, registers a
// connection, subscribes it to the debate's events and prepares the video
// room. A Debate Store failure aborts the join with nothing applied.
func (m *Manager) Join(ctx context.Context, debateID, identity string) (_ *JoinResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "coordinator.join", attribute.String("debate.id", debateID))
	defer func() { end(err) }()
	defer func() {
		if err != nil {
			m.metrics.incJoinRejected(rejectReason(err))
		}
	}()

	if m.registry.IsClosed(debateID) {
		return nil, session.ErrSessionClosed
	}
	d, err := m.loadDebate(ctx, debateID)
	if err != nil {
		return nil, err
	}
	if !d.Status.Joinable() {
		return nil, fmt.Errorf("%w: debate is %s", session.ErrSessionClosed, d.Status)
	}

	role, position := ResolveRole(d, identity)
	conn, err := m.registry.Join(debateID, identity, role, position)
	if err != nil {
		return nil, err
	}
	sub := m.hub.Subscribe(debateID, conn.ConnectionID)

	// A close that raced this join wins; the orphaned topic goes with it.
	if _, cerr := m.registry.Connection(debateID, conn.ConnectionID); cerr != nil {
		m.hub.CloseTopic(debateID)
		return nil, session.ErrSessionClosed
	}

	lc := m.lifecycleFor(debateID)
	lc.mu.Lock()
	if lc.terminal() || m.registry.IsClosed(debateID) {
		lc.mu.Unlock()
		// The session is ending under this join; undo the registration.
		_, _ = m.registry.Leave(debateID, conn.ConnectionID)
		m.hub.Unsubscribe(debateID, conn.ConnectionID)
		if m.registry.IsClosed(debateID) {
			m.lifecycles.CompareAndDelete(debateID, lc)
		}
		return nil, session.ErrSessionClosed
	}
	lc.observe(d)
	if lc.state == StateNoSession {
		lc.state = StateStarting
	}
	needRoom := lc.handle.Status != room.StatusCreated
	lc.promote()
	current := lc.debate
	lc.mu.Unlock()

	res := &JoinResult{
		Connection:   conn,
		Subscription: sub,
		Status:       current.Status,
		Features:     current.Features,
	}
	if needRoom {
		if _, rerr := m.ensureRoom(ctx, debateID); rerr != nil {
			res.RoomErr = rerr
		}
	}
	lc.mu.Lock()
	res.Room = lc.handle
	lc.mu.Unlock()

	if res.RoomErr == nil && m.tokens != nil {
		tok, terr := m.tokens.IssueToken(room.Key(debateID), identity, grantFor(role))
		if terr != nil {
			m.logger.WarnContext(ctx, "room token issuance failed",
				slog.String("debate_id", debateID),
				slog.String("identity", identity),
				slog.String("error", terr.Error()),
			)
			res.RoomErr = unavailable("issue room token", terr)
		} else {
			res.RoomToken = &tok
		}
	}

	m.publish(debateID, broadcast.NewPresence(identity, role, broadcast.PresenceJoined))
	res.Snapshot, _ = m.registry.Get(debateID)
	m.metrics.incJoin(string(role))
	m.metrics.setSessionsActive(m.registry.Len())

	m.logger.InfoContext(ctx, "connection joined",
		slog.String("debate_id", debateID),
		slog.String("connection_id", conn.ConnectionID),
		slog.String("identity", identity),
		slog.String("role", string(role)),
	)
	return res, nil
}

func grantFor(role session.Role) room.Grant {
	switch role {
	case session.RoleModerator:
		return room.Grant{CanPublish: true, RoomAdmin: true}
	case session.RoleParticipant:
		return room.Grant{CanPublish: true}
	}
	return room.Grant{}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, session.ErrRoleConflict):
		return "role_conflict"
	case errors.Is(err, session.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, debate.ErrDebateNotFound):
		return "not_found"
	case errors.Is(err, ErrExternalProviderUnavailable):
		return "provider_unavailable"
	}
	return "other"
}

// ensureRoom creates the debate's room if absent, collapsing concurrent
// calls for the same debate into one provider request. The provider call
// runs without holding the lifecycle lock.
func (m *Manager) ensureRoom(ctx context.Context, debateID string) (room.Handle, error) {
	key := room.Key(debateID)
	v, err, _ := m.roomCalls.Do(key, func() (any, error) {
		return m.rooms.EnsureRoom(ctx, key)
	})
	if err != nil {
		m.metrics.incProviderError("ensure_room")
		m.logger.WarnContext(ctx, "room creation failed, continuing without video",
			slog.String("debate_id", debateID),
			slog.String("error", err.Error()),
		)
		return room.Handle{}, unavailable("ensure room", err)
	}
	h := v.(room.Handle)

	if v, ok := m.lifecycles.Load(debateID); ok {
		lc := v.(*lifecycle)
		lc.mu.Lock()
		if !lc.terminal() {
			lc.handle = h
			lc.promote()
		}
		lc.mu.Unlock()
	}
	return h, nil
}

// Leave removes a connection voluntarily and announces it.
func (m *Manager) Leave(ctx context.Context, debateID, connID string) error {
	p, err := m.registry.Leave(debateID, connID)
	if err != nil {
		return err
	}
	m.hub.Unsubscribe(debateID, connID)
	m.publish(debateID, broadcast.NewPresence(p.Identity, p.Role, broadcast.PresenceLeft))

	m.logger.InfoContext(ctx, "connection left",
		slog.String("debate_id", debateID),
		slog.String("connection_id", connID),
		slog.String("identity", p.Identity),
	)
	return nil
}

// Heartbeat refreshes a connection's liveness window.
func (m *Manager) Heartbeat(debateID, connID string) error {
	return m.registry.Heartbeat(debateID, connID)
}

// Snapshot returns the current session, if any.
func (m *Manager) Snapshot(debateID string) (session.Snapshot, bool) {
	return m.registry.Get(debateID)
}

// SessionStatus describes a debate's runtime state.
type SessionStatus struct {
	DebateID string            `json:"debate_id"`
	State    State             `json:"state"`
	Room     room.Handle       `json:"room"`
	Session  *session.Snapshot `json:"session,omitempty"`
}

// Status reports the lifecycle state, room handle and session snapshot.
func (m *Manager) Status(debateID string) SessionStatus {
	st := SessionStatus{
		DebateID: debateID,
		State:    StateNoSession,
		Room:     room.Handle{Key: room.Key(debateID), Status: room.StatusAbsent},
	}
	if m.registry.IsClosed(debateID) {
		st.State = StateClosed
		st.Room.Status = room.StatusEnded
		return st
	}
	if v, ok := m.lifecycles.Load(debateID); ok {
		lc := v.(*lifecycle)
		lc.mu.Lock()
		st.State = lc.state
		st.Room = lc.handle
		lc.mu.Unlock()
	}
	if snap, ok := m.registry.Get(debateID); ok {
		st.Session = &snap
	}
	return st
}

// actor is a validated caller of an in-session action.
type actor struct {
	conn  session.ConnectedParticipant
	lc    *lifecycle
	state authz.State
}

// authorize resolves the calling connection and runs the gate. Lifecycles
// lost to a reclaim race are reloaded from the Debate Store.
func (m *Manager) authorize(ctx context.Context, debateID, connID string, action authz.Action) (a actor, err error) {
	defer func() {
		switch {
		case err == nil:
			m.metrics.incAction(string(action), ResultOK)
		case errors.Is(err, authz.ErrAuthorizationDenied):
			m.metrics.incAction(string(action), ResultDenied)
		default:
			m.metrics.incAction(string(action), ResultError)
		}
	}()

	conn, err := m.registry.Connection(debateID, connID)
	if err != nil {
		return actor{}, err
	}
	lc := m.lifecycleFor(debateID)

	lc.mu.Lock()
	loaded := lc.loaded
	lc.mu.Unlock()
	if !loaded {
		d, err := m.loadDebate(ctx, debateID)
		if err != nil {
			return actor{}, err
		}
		lc.mu.Lock()
		lc.observe(d)
		if lc.state == StateNoSession {
			lc.state = StateStarting
		}
		lc.mu.Unlock()
	}

	lc.mu.Lock()
	terminal := lc.terminal()
	st := lc.debate
	lc.mu.Unlock()
	if terminal {
		return actor{}, session.ErrSessionClosed
	}
	if err := m.gate.Check(conn.Role, action, st); err != nil {
		return actor{}, err
	}
	return actor{conn: conn, lc: lc, state: st}, nil
}

// teardown broadcasts the final event and destroys the session and its
// topic. Subscribers still receive the final event before their stream ends.
func (m *Manager) teardown(debateID string, final broadcast.Event) {
	if v, ok := m.lifecycles.Load(debateID); ok {
		lc := v.(*lifecycle)
		lc.mu.Lock()
		lc.state = StateClosed
		lc.handle.Status = room.StatusEnded
		lc.mu.Unlock()
	}
	m.publish(debateID, final)
	m.registry.Close(debateID)
	m.hub.CloseTopic(debateID)
	m.lifecycles.Delete(debateID)
	m.metrics.setSessionsActive(m.registry.Len())
}

// endRoom ends the provider room. Failures are logged and tolerated: the
// debate is over whether or not the provider cleaned up.
func (m *Manager) endRoom(ctx context.Context, debateID string) {
	if err := m.rooms.EndRoom(ctx, room.Key(debateID)); err != nil {
		if !errors.Is(err, room.ErrRoomNotFound) {
			m.metrics.incProviderError("end_room")
		}
		m.logger.WarnContext(ctx, "room end failed, treating debate as ended",
			slog.String("debate_id", debateID),
			slog.String("error", err.Error()),
		)
	}
}
