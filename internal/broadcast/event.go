// Package broadcast fans out debate events to the connections subscribed to
// each debate while preserving per-debate publish order.
package broadcast

import (
	"time"

	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/session"
)

// Type tags an Event.
type Type string

const (
	TypeChat               Type = "chat"
	TypeReaction           Type = "reaction"
	TypeVote               Type = "vote"
	TypePresence           Type = "presence"
	TypeModeratorAction    Type = "moderatorAction"
	TypeParticipantUpdated Type = "participantUpdated"
	TypeOverflow           Type = "overflow"
)

// Reaction kinds accepted from clients.
const (
	ReactionThumbsUp   = "thumbsUp"
	ReactionThumbsDown = "thumbsDown"
	ReactionHeart      = "heart"
)

// ValidReaction reports whether kind is a supported reaction.
func ValidReaction(kind string) bool {
	switch kind {
	case ReactionThumbsUp, ReactionThumbsDown, ReactionHeart:
		return true
	}
	return false
}

// PresenceState is the direction of a presence change.
type PresenceState string

const (
	PresenceJoined PresenceState = "joined"
	PresenceLeft   PresenceState = "left"
)

// ActionType names a moderator action carried by a ModeratorAction event.
type ActionType string

const (
	ActionStart          ActionType = "start"
	ActionMute           ActionType = "mute"
	ActionKick           ActionType = "kick"
	ActionToggleSpeaking ActionType = "toggleSpeaking"
	ActionEndDebate      ActionType = "endDebate"
	ActionCancel         ActionType = "cancel"
)

// Event is a tagged union; exactly one payload matching Type is set.
// Seq is assigned by the hub and increases by one per published event in a
// debate.
type Event struct {
	Type      Type      `json:"type"`
	DebateID  string    `json:"debateId"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`

	Chat               *Chat               `json:"chat,omitempty"`
	Reaction           *Reaction           `json:"reaction,omitempty"`
	Vote               *Vote               `json:"vote,omitempty"`
	Presence           *Presence           `json:"presence,omitempty"`
	ModeratorAction    *ModeratorAction    `json:"moderatorAction,omitempty"`
	ParticipantUpdated *ParticipantUpdated `json:"participantUpdated,omitempty"`
	Overflow           *Overflow           `json:"overflow,omitempty"`
}

type Chat struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Reaction struct {
	Sender string `json:"sender"`
	Kind   string `json:"kind"`
}

type Vote struct {
	Position debate.Position `json:"position"`
	Tally    debate.Tally    `json:"tally"`
}

type Presence struct {
	Identity string        `json:"identity"`
	Role     session.Role  `json:"role"`
	State    PresenceState `json:"state"`
}

type ModeratorAction struct {
	Type           ActionType     `json:"type"`
	TargetIdentity string         `json:"targetIdentity,omitempty"`
	Speaking       *bool          `json:"speaking,omitempty"`
	Winner         *debate.Winner `json:"winner,omitempty"`
	Tally          *debate.Tally  `json:"tally,omitempty"`
}

type ParticipantUpdated struct {
	Participant session.ConnectedParticipant `json:"participant"`
}

// Overflow replaces events dropped from a slow subscriber's queue.
type Overflow struct {
	Dropped int `json:"dropped"`
}

// NewChat builds a chat event.
func NewChat(sender, text string) Event {
	return Event{Type: TypeChat, Chat: &Chat{Sender: sender, Text: text}}
}

// NewReaction builds a reaction event.
func NewReaction(sender, kind string) Event {
	return Event{Type: TypeReaction, Reaction: &Reaction{Sender: sender, Kind: kind}}
}

// NewVote builds a vote event.
func NewVote(position debate.Position, tally debate.Tally) Event {
	return Event{Type: TypeVote, Vote: &Vote{Position: position, Tally: tally}}
}

// NewPresence builds a presence event.
func NewPresence(identity string, role session.Role, state PresenceState) Event {
	return Event{Type: TypePresence, Presence: &Presence{Identity: identity, Role: role, State: state}}
}

// NewModeratorAction builds a moderator action event.
func NewModeratorAction(action ModeratorAction) Event {
	return Event{Type: TypeModeratorAction, ModeratorAction: &action}
}

// NewParticipantUpdated builds a participant update event.
func NewParticipantUpdated(p session.ConnectedParticipant) Event {
	return Event{Type: TypeParticipantUpdated, ParticipantUpdated: &ParticipantUpdated{Participant: p}}
}
