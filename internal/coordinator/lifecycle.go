package coordinator

import (
	"sync"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/session"
)

// State is a debate's position in the session lifecycle.
type State string

const (
	StateNoSession State = "no_session"
	StateStarting  State = "starting"
	StateLive      State = "live"
	StateEnding    State = "ending"
	StateClosed    State = "closed"
)

// lifecycle is the manager's per-debate record. mu guards the fields; tally
// is held shared by in-flight votes and exclusively by the transition to
// Ending, so the final tally includes every accepted vote.
type lifecycle struct {
	mu     sync.Mutex
	tally  sync.RWMutex
	state  State
	handle room.Handle
	debate authz.State
	loaded bool
}

func newLifecycle(debateID string) *lifecycle {
	return &lifecycle{
		state:  StateNoSession,
		handle: room.Handle{Key: room.Key(debateID), Status: room.StatusAbsent},
	}
}

// observe copies the persisted attributes the manager consults on every
// action. A snapshot whose status is behind the cached one was read before a
// transition this manager already applied and is dropped. Caller holds lc.mu.
func (lc *lifecycle) observe(d *debate.Debate) {
	if lc.loaded && statusRank(d.Status) < statusRank(lc.debate.Status) {
		return
	}
	lc.debate = authz.State{Status: d.Status, Features: d.Features}
	lc.loaded = true
}

// statusRank orders debate statuses along the only direction they move.
func statusRank(s debate.Status) int {
	switch s {
	case debate.StatusLive:
		return 1
	case debate.StatusCompleted, debate.StatusCancelled:
		return 2
	}
	return 0
}

// promote moves Starting to Live once the room exists and the debate is
// persisted live. Caller holds lc.mu.
func (lc *lifecycle) promote() {
	if lc.state == StateStarting && lc.handle.Status == room.StatusCreated && lc.debate.Status == debate.StatusLive {
		lc.state = StateLive
	}
}

func (lc *lifecycle) terminal() bool {
	return lc.state == StateEnding || lc.state == StateClosed
}

// ResolveRole is the single authority mapping an identity to its role in a
// debate: the designated moderator, else a rostered participant with their
// position, else audience.
func ResolveRole(d *debate.Debate, identity string) (session.Role, debate.Position) {
	if identity != "" && identity == d.Moderator {
		return session.RoleModerator, ""
	}
	if p, ok := d.FindParticipant(identity); ok {
		return session.RoleParticipant, p.Position
	}
	return session.RoleAudience, ""
}
