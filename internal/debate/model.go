// Package debate provides the persistent debate record and the store used
// by the live session coordinator to bootstrap sessions and write back
// status, vote tally, and roster changes.
package debate

import (
	"errors"
	"time"
)

// Common errors for debate store operations.
var (
	ErrDebateNotFound      = errors.New("debate not found")
	ErrParticipantNotFound = errors.New("participant not found in debate")
	ErrAlreadyParticipant  = errors.New("identity already on debate roster")
	ErrInvalidPosition     = errors.New("position must be one of for, against, neutral")
	ErrInvalidStatus       = errors.New("invalid debate status")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
)

// Position is the side a participant argues, or the side a vote supports.
type Position string

const (
	PositionFor     Position = "for"
	PositionAgainst Position = "against"
	PositionNeutral Position = "neutral"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	switch p {
	case PositionFor, PositionAgainst, PositionNeutral:
		return true
	}
	return false
}

// Status is the persisted lifecycle status of a debate.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusLive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Joinable returns true while sessions may still be opened for the debate.
func (s Status) Joinable() bool {
	return s == StatusUpcoming || s == StatusLive
}

// Winner is the outcome computed when a debate ends with voting enabled.
type Winner string

const (
	WinnerFor     Winner = "for"
	WinnerAgainst Winner = "against"
	WinnerTie     Winner = "tie"
)

// Participant is one entry of the ordered debate roster.
type Participant struct {
	Identity string   `json:"identity"`
	Position Position `json:"position"`
	Speaking bool     `json:"speaking"`
}

// Features are the per-debate toggles set by the moderator at creation.
type Features struct {
	VotingEnabled    bool `json:"voting_enabled"`
	ChatEnabled      bool `json:"chat_enabled"`
	ReactionsEnabled bool `json:"reactions_enabled"`
}

// Tally holds vote counts. Counts only ever increase.
type Tally struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Neutral int `json:"neutral"`
}

// Feedback is a rating left by an identity after a debate.
type Feedback struct {
	Identity  string    `json:"identity"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Debate is the persistent debate record.
type Debate struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Category     string        `json:"category,omitempty"`
	Moderator    string        `json:"moderator"`
	Participants []Participant `json:"participants"`
	Audience     []string      `json:"audience,omitempty"`
	Status       Status        `json:"status"`
	Features     Features      `json:"features"`
	Votes        Tally         `json:"votes"`
	Winner       *Winner       `json:"winner,omitempty"`
	Feedback     []Feedback    `json:"feedback,omitempty"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// FindParticipant returns the roster entry for identity, if any.
func (d *Debate) FindParticipant(identity string) (Participant, bool) {
	for _, p := range d.Participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return Participant{}, false
}

// Clone returns a deep copy so callers never share slices with the store.
func (d *Debate) Clone() *Debate {
	c := *d
	c.Participants = append([]Participant(nil), d.Participants...)
	c.Audience = append([]string(nil), d.Audience...)
	c.Feedback = append([]Feedback(nil), d.Feedback...)
	if d.Winner != nil {
		w := *d.Winner
		c.Winner = &w
	}
	return &c
}

// ComputeWinner derives the outcome from a tally. Neutral votes never
// decide the result. Returns nil when voting is disabled.
func ComputeWinner(features Features, tally Tally) *Winner {
	if !features.VotingEnabled {
		return nil
	}
	w := WinnerTie
	switch {
	case tally.For > tally.Against:
		w = WinnerFor
	case tally.Against > tally.For:
		w = WinnerAgainst
	}
	return &w
}
