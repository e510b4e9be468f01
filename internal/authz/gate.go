// Package authz decides whether a connected actor may perform an action
// against a debate session. Every check is a pure function of its inputs.
package authz

import (
	"errors"
	"fmt"

	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/session"
)

var (
	// ErrAuthorizationDenied is returned when the actor's role or the
	// debate's state does not permit the action.
	ErrAuthorizationDenied = errors.New("action not permitted")
	// ErrInvalidTarget is returned when a moderator action names a target
	// that is not connected or not eligible.
	ErrInvalidTarget = errors.New("invalid action target")
)

// Action is a control or interaction message a connection can send.
type Action string

const (
	ActionStart          Action = "start"
	ActionEnd            Action = "end"
	ActionCancel         Action = "cancel"
	ActionMute           Action = "mute"
	ActionKick           Action = "kick"
	ActionToggleSpeaking Action = "toggleSpeaking"
	ActionVote           Action = "vote"
	ActionChat           Action = "chat"
	ActionReaction       Action = "reaction"
	ActionMedia          Action = "media"
	ActionEnlist         Action = "enlist"
	ActionWithdraw       Action = "withdraw"
)

// IsModeratorAction reports whether a is reserved for the moderator.
func (a Action) IsModeratorAction() bool {
	switch a {
	case ActionStart, ActionEnd, ActionCancel, ActionMute, ActionKick, ActionToggleSpeaking:
		return true
	}
	return false
}

// IsTargeted reports whether a requires a target identity.
func (a Action) IsTargeted() bool {
	return a == ActionMute || a == ActionKick || a == ActionToggleSpeaking
}

// State is the slice of debate state the gate inspects.
type State struct {
	Status   debate.Status
	Features debate.Features
}

// LobbyPolicy controls which interactions are open while a debate is still
// upcoming, before the moderator starts it.
type LobbyPolicy struct {
	Chat      bool
	Reactions bool
	Voting    bool
}

// DefaultLobbyPolicy opens chat and reactions in the lobby and holds voting
// until the debate is live.
func DefaultLobbyPolicy() LobbyPolicy {
	return LobbyPolicy{Chat: true, Reactions: true, Voting: false}
}

// Gate evaluates permissions.
type Gate struct {
	lobby LobbyPolicy
}

// NewGate creates a gate with the given lobby policy.
func NewGate(lobby LobbyPolicy) *Gate {
	return &Gate{lobby: lobby}
}

// Lobby returns the gate's lobby policy.
func (g *Gate) Lobby() LobbyPolicy {
	return g.lobby
}

// CanPerform reports whether role may perform action in st.
func (g *Gate) CanPerform(role session.Role, action Action, st State) bool {
	return g.Check(role, action, st) == nil
}

// Check is CanPerform with a reason. It returns an error wrapping
// ErrAuthorizationDenied when the action is not allowed.
func (g *Gate) Check(role session.Role, action Action, st State) error {
	if action.IsModeratorAction() && role != session.RoleModerator {
		return deny(action, "moderator only")
	}

	lobby := st.Status == debate.StatusUpcoming
	live := st.Status == debate.StatusLive
	if !lobby && !live {
		return deny(action, fmt.Sprintf("debate is %s", st.Status))
	}

	switch action {
	case ActionStart, ActionMute, ActionKick, ActionToggleSpeaking:
		return nil
	case ActionEnd:
		if !live {
			return deny(action, "debate has not started")
		}
		return nil
	case ActionCancel:
		if !lobby {
			return deny(action, "debate already started")
		}
		return nil
	case ActionVote:
		if role != session.RoleAudience {
			return deny(action, "audience only")
		}
		if !st.Features.VotingEnabled {
			return deny(action, "voting disabled")
		}
		if lobby && !g.lobby.Voting {
			return deny(action, "voting opens when the debate starts")
		}
		return nil
	case ActionChat:
		if !st.Features.ChatEnabled {
			return deny(action, "chat disabled")
		}
		if lobby && !g.lobby.Chat {
			return deny(action, "chat opens when the debate starts")
		}
		return nil
	case ActionReaction:
		if !st.Features.ReactionsEnabled {
			return deny(action, "reactions disabled")
		}
		if lobby && !g.lobby.Reactions {
			return deny(action, "reactions open when the debate starts")
		}
		return nil
	case ActionMedia:
		if role == session.RoleAudience {
			return deny(action, "audience has no media")
		}
		return nil
	case ActionEnlist:
		if role != session.RoleAudience {
			return deny(action, "audience only")
		}
		if !lobby {
			return deny(action, "roster is locked once live")
		}
		return nil
	case ActionWithdraw:
		if role != session.RoleParticipant {
			return deny(action, "participants only")
		}
		if !lobby {
			return deny(action, "roster is locked once live")
		}
		return nil
	}
	return deny(action, "unknown action")
}

// CheckTarget validates the target of a moderator action. found reports
// whether the target identity currently holds a connection.
func CheckTarget(action Action, actor string, target session.ConnectedParticipant, found bool) error {
	if !action.IsTargeted() {
		return nil
	}
	if !found {
		return fmt.Errorf("%w: target is not connected", ErrInvalidTarget)
	}
	if target.Identity == actor {
		return fmt.Errorf("%w: moderator cannot %s themselves", ErrInvalidTarget, action)
	}
	if action == ActionToggleSpeaking && target.Role != session.RoleParticipant {
		return fmt.Errorf("%w: %s is not a participant", ErrInvalidTarget, target.Identity)
	}
	return nil
}

func deny(action Action, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, action, reason)
}
