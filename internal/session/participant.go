// Package session provides the in-memory registry of live debate sessions:
// who is connected to each debate, in what role, and with what ephemeral
// media attributes.
package session

import (
	"errors"
	"time"

	"github.com/onnwee/debatecast/internal/debate"
)

// Common errors for registry operations.
var (
	ErrAlreadyConnected   = errors.New("identity already holds a connection in this session")
	ErrRoleConflict       = errors.New("session already has a moderator connection")
	ErrSessionClosed      = errors.New("session is closed")
	ErrConnectionNotFound = errors.New("connection not found in session")
	ErrImmutableField     = errors.New("identity, role and position cannot change for a connection")
)

// Role determines which actions a connection may perform.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleAudience    Role = "audience"
)

// ConnectedParticipant is one live connection in a session.
type ConnectedParticipant struct {
	ConnectionID  string          `json:"connection_id"`
	Identity      string          `json:"identity"`
	Role          Role            `json:"role"`
	Position      debate.Position `json:"position,omitempty"` // participants only
	MicMuted      bool            `json:"mic_muted"`
	VideoOff      bool            `json:"video_off"`
	Speaking      bool            `json:"speaking"`
	JoinedAt      time.Time       `json:"joined_at"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	DebateID     string                 `json:"debate_id"`
	Participants []ConnectedParticipant `json:"participants"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Moderator returns the moderator connection, if connected.
func (s Snapshot) Moderator() (ConnectedParticipant, bool) {
	for _, p := range s.Participants {
		if p.Role == RoleModerator {
			return p, true
		}
	}
	return ConnectedParticipant{}, false
}

// ByIdentity returns the connection held by identity, if any.
func (s Snapshot) ByIdentity(identity string) (ConnectedParticipant, bool) {
	for _, p := range s.Participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return ConnectedParticipant{}, false
}

// CountRole returns how many connections hold role.
func (s Snapshot) CountRole(role Role) int {
	n := 0
	for _, p := range s.Participants {
		if p.Role == role {
			n++
		}
	}
	return n
}
