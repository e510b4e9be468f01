// Package room defines the boundary to the external video-conferencing
// provider. The coordinator never sees provider-specific types.
package room

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRoomNotFound is returned when the provider has no room for a key.
	ErrRoomNotFound = errors.New("room not found")

	// ErrParticipantNotFound is returned when the identity is not in the room.
	ErrParticipantNotFound = errors.New("room participant not found")

	// ErrProviderUnavailable wraps transport or server failures from the provider.
	ErrProviderUnavailable = errors.New("room provider unavailable")
)

// KeyPrefix prefixes every room key.
const KeyPrefix = "debate-"

// Key derives the external room key for a debate.
func Key(debateID string) string {
	return KeyPrefix + debateID
}

// Status is the coordinator's view of a provider room.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusCreated Status = "created"
	StatusEnded   Status = "ended"
)

// Handle is the coordinator's view of an external room tied to a debate.
type Handle struct {
	Key              string    `json:"key"`
	Status           Status    `json:"status"`
	ParticipantCount int       `json:"participant_count"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Provider is implemented by video room backends.
type Provider interface {
	// EnsureRoom creates the room if absent. A room that already exists is a
	// success, never an error.
	EnsureRoom(ctx context.Context, key string) (Handle, error)

	// EndRoom ends the room, disconnecting everyone. Returns ErrRoomNotFound
	// when the room is already gone.
	EndRoom(ctx context.Context, key string) error

	// DisconnectParticipant removes one identity's media connection.
	DisconnectParticipant(ctx context.Context, key, identity string) error

	// RoomStatus inspects the room. A missing room yields StatusAbsent with no error.
	RoomStatus(ctx context.Context, key string) (Handle, error)
}

// Muter is implemented by providers that can force a participant's
// microphone off server-side.
type Muter interface {
	// MuteParticipant mutes every audio track identity publishes in the room.
	MuteParticipant(ctx context.Context, key, identity string) error
}

// Grant describes what a room access token allows.
type Grant struct {
	CanPublish bool
	RoomAdmin  bool
}

// Token is a provider access token handed to a client in its join ack.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer is implemented by providers whose clients need a credential to
// attach media to a room.
type TokenIssuer interface {
	IssueToken(key, identity string, grant Grant) (Token, error)
}
