package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/debatecast/internal/debate"
)

// Default timing values used when Options leaves them zero.
const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultEmptyGrace       = 2 * time.Minute
)

// Options configures a Registry.
type Options struct {
	// HeartbeatTimeout is how long a connection may go without a heartbeat
	// before it is evicted.
	HeartbeatTimeout time.Duration
	// EmptyGrace is how long an empty session is retained before it is
	// reclaimed.
	EmptyGrace time.Duration
	// OnEvict is called, outside any registry lock, after a connection is
	// dropped for a missed heartbeat.
	OnEvict func(debateID string, p ConnectedParticipant)
	// OnReclaim is called, outside any registry lock, after an empty session
	// is discarded.
	OnReclaim func(debateID string)
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type conn struct {
	p     ConnectedParticipant
	timer *time.Timer
	gen   uint64
}

// entry holds one session. Each entry has its own lock so unrelated debates
// never contend.
type entry struct {
	mu         sync.Mutex
	debateID   string
	createdAt  time.Time
	conns      map[string]*conn  // connection id -> conn
	byIdentity map[string]string // identity -> connection id
	moderator  string            // connection id, empty when absent
	closed     bool
	reclaim    *time.Timer
}

// Registry tracks live sessions keyed by debate id.
type Registry struct {
	sessions  sync.Map // debate id -> *entry
	tombstone sync.Map // debate id -> struct{}; closed by endDebate or cancel
	opts      Options
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.EmptyGrace <= 0 {
		opts.EmptyGrace = DefaultEmptyGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{opts: opts, logger: logger}
}

// IsClosed reports whether the debate's session was closed explicitly.
func (r *Registry) IsClosed(debateID string) bool {
	_, ok := r.tombstone.Load(debateID)
	return ok
}

// lockOpen returns the live entry for debateID with its lock held. When
// create is set a missing entry is created. A nil entry with a nil error
// means no session exists.
func (r *Registry) lockOpen(debateID string, create bool) (*entry, error) {
	for {
		if r.IsClosed(debateID) {
			return nil, ErrSessionClosed
		}
		var e *entry
		if v, ok := r.sessions.Load(debateID); ok {
			e = v.(*entry)
		} else if create {
			fresh := &entry{
				debateID:   debateID,
				createdAt:  r.opts.Now(),
				conns:      make(map[string]*conn),
				byIdentity: make(map[string]string),
			}
			v, _ := r.sessions.LoadOrStore(debateID, fresh)
			e = v.(*entry)
		} else {
			return nil, nil
		}

		e.mu.Lock()
		if !e.closed {
			return e, nil
		}
		// Reclaimed between load and lock; retry against a fresh entry.
		e.mu.Unlock()
		if !create {
			return nil, nil
		}
	}
}

// Join registers a new connection. It fails with ErrAlreadyConnected when the
// identity already holds a connection, ErrRoleConflict when a second
// moderator connection is attempted, and ErrSessionClosed after the session
// has been closed.
func (r *Registry) Join(debateID, identity string, role Role, position debate.Position) (ConnectedParticipant, error) {
	e, err := r.lockOpen(debateID, true)
	if err != nil {
		return ConnectedParticipant{}, err
	}
	defer e.mu.Unlock()

	if _, ok := e.byIdentity[identity]; ok {
		return ConnectedParticipant{}, ErrAlreadyConnected
	}
	if role == RoleModerator && e.moderator != "" {
		return ConnectedParticipant{}, ErrRoleConflict
	}
	if role != RoleParticipant {
		position = ""
	}

	if e.reclaim != nil {
		e.reclaim.Stop()
		e.reclaim = nil
	}

	now := r.opts.Now()
	c := &conn{p: ConnectedParticipant{
		ConnectionID:  uuid.NewString(),
		Identity:      identity,
		Role:          role,
		Position:      position,
		JoinedAt:      now,
		LastHeartbeat: now,
	}}
	e.conns[c.p.ConnectionID] = c
	e.byIdentity[identity] = c.p.ConnectionID
	if role == RoleModerator {
		e.moderator = c.p.ConnectionID
	}
	r.armHeartbeat(e, c)

	return c.p, nil
}

// armHeartbeat starts a fresh heartbeat window for c. Caller holds e.mu.
func (r *Registry) armHeartbeat(e *entry, c *conn) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	connID := c.p.ConnectionID
	c.timer = time.AfterFunc(r.opts.HeartbeatTimeout, func() {
		r.expire(e, connID, gen)
	})
}

// expire evicts a connection whose heartbeat window elapsed. Stale timers are
// ignored through the generation check so each window fires at most once.
func (r *Registry) expire(e *entry, connID string, gen uint64) {
	e.mu.Lock()
	c, ok := e.conns[connID]
	if e.closed || !ok || c.gen != gen {
		e.mu.Unlock()
		return
	}
	p := r.removeLocked(e, c)
	e.mu.Unlock()

	r.logger.Info("connection evicted after missed heartbeat",
		slog.String("debate_id", e.debateID),
		slog.String("identity", p.Identity),
		slog.String("role", string(p.Role)),
	)
	if r.opts.OnEvict != nil {
		r.opts.OnEvict(e.debateID, p)
	}
}

// removeLocked drops c from e and starts the grace timer when e becomes
// empty. Caller holds e.mu.
func (r *Registry) removeLocked(e *entry, c *conn) ConnectedParticipant {
	if c.timer != nil {
		c.timer.Stop()
	}
	delete(e.conns, c.p.ConnectionID)
	delete(e.byIdentity, c.p.Identity)
	if e.moderator == c.p.ConnectionID {
		e.moderator = ""
	}
	if len(e.conns) == 0 && e.reclaim == nil {
		e.reclaim = time.AfterFunc(r.opts.EmptyGrace, func() {
			r.reclaimEntry(e)
		})
	}
	return c.p
}

func (r *Registry) reclaimEntry(e *entry) {
	e.mu.Lock()
	if e.closed || len(e.conns) > 0 {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.reclaim = nil
	r.sessions.CompareAndDelete(e.debateID, e)
	e.mu.Unlock()

	r.logger.Debug("empty session reclaimed", slog.String("debate_id", e.debateID))
	if r.opts.OnReclaim != nil {
		r.opts.OnReclaim(e.debateID)
	}
}

// Heartbeat refreshes the liveness window of a connection.
func (r *Registry) Heartbeat(debateID, connID string) error {
	e, err := r.lockOpen(debateID, false)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrConnectionNotFound
	}
	defer e.mu.Unlock()

	c, ok := e.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	c.p.LastHeartbeat = r.opts.Now()
	r.armHeartbeat(e, c)
	return nil
}

// Leave removes a connection voluntarily.
func (r *Registry) Leave(debateID, connID string) (ConnectedParticipant, error) {
	e, err := r.lockOpen(debateID, false)
	if err != nil {
		return ConnectedParticipant{}, err
	}
	if e == nil {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	defer e.mu.Unlock()

	c, ok := e.conns[connID]
	if !ok {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	return r.removeLocked(e, c), nil
}

// RemoveIdentity removes the connection held by identity. It is used for
// kicks, where the caller knows the identity rather than the connection.
func (r *Registry) RemoveIdentity(debateID, identity string) (ConnectedParticipant, error) {
	e, err := r.lockOpen(debateID, false)
	if err != nil {
		return ConnectedParticipant{}, err
	}
	if e == nil {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	defer e.mu.Unlock()

	connID, ok := e.byIdentity[identity]
	if !ok {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	return r.removeLocked(e, e.conns[connID]), nil
}

// Connection returns a copy of a single connection.
func (r *Registry) Connection(debateID, connID string) (ConnectedParticipant, error) {
	e, err := r.lockOpen(debateID, false)
	if err != nil {
		return ConnectedParticipant{}, err
	}
	if e == nil {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	defer e.mu.Unlock()

	c, ok := e.conns[connID]
	if !ok {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	return c.p, nil
}

// Mutate applies fn to the connection held by identity under the session
// lock. fn may change the media attributes and the speaking flag; changing
// identity, role or position yields ErrImmutableField. An error from fn
// aborts the change.
func (r *Registry) Mutate(debateID, identity string, fn func(p *ConnectedParticipant) error) (ConnectedParticipant, error) {
	e, err := r.lockOpen(debateID, false)
	if err != nil {
		return ConnectedParticipant{}, err
	}
	if e == nil {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	defer e.mu.Unlock()

	connID, ok := e.byIdentity[identity]
	if !ok {
		return ConnectedParticipant{}, ErrConnectionNotFound
	}
	c := e.conns[connID]
	next := c.p
	if err := fn(&next); err != nil {
		return ConnectedParticipant{}, err
	}
	if next.ConnectionID != c.p.ConnectionID || next.Identity != c.p.Identity ||
		next.Role != c.p.Role || next.Position != c.p.Position {
		return ConnectedParticipant{}, ErrImmutableField
	}
	c.p = next
	return c.p, nil
}

// Get returns a snapshot of the session. The second result is false when no
// session exists.
func (r *Registry) Get(debateID string) (Snapshot, bool) {
	e, err := r.lockOpen(debateID, false)
	if err != nil || e == nil {
		return Snapshot{}, false
	}
	defer e.mu.Unlock()
	return snapshotLocked(e), true
}

func snapshotLocked(e *entry) Snapshot {
	s := Snapshot{
		DebateID:     e.debateID,
		CreatedAt:    e.createdAt,
		Participants: make([]ConnectedParticipant, 0, len(e.conns)),
	}
	for _, c := range e.conns {
		s.Participants = append(s.Participants, c.p)
	}
	sort.Slice(s.Participants, func(i, j int) bool {
		a, b := s.Participants[i], s.Participants[j]
		if a.JoinedAt.Equal(b.JoinedAt) {
			return a.ConnectionID < b.ConnectionID
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	return s
}

// Close tombstones the session so later joins fail and returns the
// connections that were still present.
func (r *Registry) Close(debateID string) []ConnectedParticipant {
	r.tombstone.Store(debateID, struct{}{})

	v, ok := r.sessions.LoadAndDelete(debateID)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.reclaim != nil {
		e.reclaim.Stop()
		e.reclaim = nil
	}
	out := snapshotLocked(e).Participants
	for _, c := range e.conns {
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	e.conns = nil
	e.byIdentity = nil
	e.moderator = ""
	return out
}

// DebateIDs lists the debates with an open session.
func (r *Registry) DebateIDs() []string {
	var ids []string
	r.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
