package api

import (
	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/session"
)

// Client message types.
const (
	MsgJoin            = "join"
	MsgLeave           = "leave"
	MsgChat            = "chat"
	MsgReaction        = "reaction"
	MsgVote            = "vote"
	MsgModeratorAction = "moderatorAction"
	MsgMedia           = "media"
	MsgEnlist          = "enlist"
	MsgWithdraw        = "withdraw"
	MsgHeartbeat       = "heartbeat"
)

// Server message types. Broadcast events are sent as-is and carry their own
// event type.
const (
	MsgJoinAck = "joinAck"
	MsgAck     = "ack"
	MsgError   = "error"
)

// Moderator action names accepted in moderatorAction.action.
const (
	ModStart          = "start"
	ModEnd            = "endDebate"
	ModCancel         = "cancel"
	ModMute           = "mute"
	ModKick           = "kick"
	ModToggleSpeaking = "toggleSpeaking"
)

// ClientMessage is the envelope of every client to server message. Ref is an
// optional client correlation id echoed on the matching ack or error.
type ClientMessage struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	DebateID       string          `json:"debateId,omitempty"`
	Text           string          `json:"text,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Position       debate.Position `json:"position,omitempty"`
	Action         string          `json:"action,omitempty"`
	TargetIdentity string          `json:"targetIdentity,omitempty"`
	MicMuted       *bool           `json:"micMuted,omitempty"`
	VideoOff       *bool           `json:"videoOff,omitempty"`
}

// JoinAck answers a successful join.
type JoinAck struct {
	Type         string           `json:"type"`
	Ref          string           `json:"ref,omitempty"`
	ConnectionID string           `json:"connectionId"`
	Role         session.Role     `json:"role"`
	Position     debate.Position  `json:"position,omitempty"`
	Status       debate.Status    `json:"status"`
	Features     debate.Features  `json:"features"`
	Session      session.Snapshot `json:"sessionSnapshot"`
	Room         room.Handle      `json:"room"`
	RoomToken    *room.Token      `json:"roomToken,omitempty"`
	// RoomError is set when the video room is unavailable; chat, reactions
	// and votes keep working.
	RoomError string `json:"roomError,omitempty"`
}

// Ack confirms a client message. Only the fields relevant to the action are
// set.
type Ack struct {
	Type      string         `json:"type"`
	Ref       string         `json:"ref,omitempty"`
	Action    string         `json:"action"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Tally     *debate.Tally  `json:"tally,omitempty"`
	Winner    *debate.Winner `json:"winner,omitempty"`
	Speaking  *bool          `json:"speaking,omitempty"`
	RoomError string         `json:"roomError,omitempty"`
}

// ErrorMessage reports a rejected client message. The socket stays open.
type ErrorMessage struct {
	Type       string `json:"type"`
	Ref        string `json:"ref,omitempty"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}
