// Package audit keeps a tamper-evident trail of moderator actions so the
// moderation of a debate can be reviewed after it ends.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Outcome is the result of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeDenied, OutcomeFailure:
		return true
	}
	return false
}

// Record is one audited moderator action.
type Record struct {
	ID        string    `json:"id"`
	DebateID  string    `json:"debate_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// PreviousHash is the SHA-256 of the record appended before this one.
	PreviousHash string `json:"previous_hash,omitempty"`
}

// Entry is the input for a new Record.
type Entry struct {
	DebateID  string
	Actor     string
	Action    string
	Target    string
	Outcome   Outcome
	Reason    string
	RequestID string
}

// hash returns the hex SHA-256 of every field of r, PreviousHash included,
// so that editing any earlier record breaks the chain.
func (r *Record) hash() string {
	fields := []string{
		r.ID,
		r.DebateID,
		r.Actor,
		r.Action,
		r.Target,
		string(r.Outcome),
		r.Reason,
		r.RequestID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
