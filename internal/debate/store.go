package debate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistent debate operations consumed by the coordinator.
// Every call is a potential blocking boundary.
type Store interface {
	// GetDebate retrieves a debate by ID. Returns ErrDebateNotFound if absent.
	GetDebate(ctx context.Context, id string) (*Debate, error)

	// SetStatus updates the persisted status.
	SetStatus(ctx context.Context, id string, status Status) error

	// SetWinner records the final outcome.
	SetWinner(ctx context.Context, id string, winner Winner) error

	// IncrementVote adds one vote for position and returns the new tally.
	IncrementVote(ctx context.Context, id string, position Position) (Tally, error)

	// AppendFeedback appends a feedback entry.
	AppendFeedback(ctx context.Context, id string, entry Feedback) error

	// AddParticipant appends identity to the roster with the given position.
	AddParticipant(ctx context.Context, id, identity string, position Position) error

	// RemoveParticipant removes identity from the roster.
	RemoveParticipant(ctx context.Context, id, identity string) error

	// SetSpeaking sets the persisted speaking flag of a roster entry.
	SetSpeaking(ctx context.Context, id, identity string, speaking bool) error
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	debates map[string]*Debate
}

// NewInMemoryStore creates a new in-memory debate store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		debates: make(map[string]*Debate),
	}
}

// Create inserts a debate, assigning an ID and defaults when missing.
// Returns the stored copy.
func (s *InMemoryStore) Create(d *Debate) (*Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := d.Clone()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusUpcoming
	}
	if !c.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.debates[c.ID] = c
	return c.Clone(), nil
}

// GetDebate retrieves a debate by ID.
func (s *InMemoryStore) GetDebate(ctx context.Context, id string) (*Debate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, ErrDebateNotFound
	}
	return d.Clone(), nil
}

// SetStatus updates the persisted status.
func (s *InMemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	return s.update(id, func(d *Debate) error {
		d.Status = status
		return nil
	})
}

// SetWinner records the final outcome.
func (s *InMemoryStore) SetWinner(ctx context.Context, id string, winner Winner) error {
	return s.update(id, func(d *Debate) error {
		w := winner
		d.Winner = &w
		return nil
	})
}

// IncrementVote adds one vote for position.
func (s *InMemoryStore) IncrementVote(ctx context.Context, id string, position Position) (Tally, error) {
	if !position.Valid() {
		return Tally{}, ErrInvalidPosition
	}
	var tally Tally
	err := s.update(id, func(d *Debate) error {
		switch position {
		case PositionFor:
			d.Votes.For++
		case PositionAgainst:
			d.Votes.Against++
		case PositionNeutral:
			d.Votes.Neutral++
		}
		tally = d.Votes
		return nil
	})
	return tally, err
}

// AppendFeedback appends a feedback entry.
func (s *InMemoryStore) AppendFeedback(ctx context.Context, id string, entry Feedback) error {
	if entry.Rating < 1 || entry.Rating > 5 {
		return ErrInvalidRating
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.update(id, func(d *Debate) error {
		d.Feedback = append(d.Feedback, entry)
		return nil
	})
}

// AddParticipant appends identity to the roster.
func (s *InMemoryStore) AddParticipant(ctx context.Context, id, identity string, position Position) error {
	if !position.Valid() {
		return ErrInvalidPosition
	}
	return s.update(id, func(d *Debate) error {
		if _, ok := d.FindParticipant(identity); ok {
			return ErrAlreadyParticipant
		}
		d.Participants = append(d.Participants, Participant{Identity: identity, Position: position})
		d.Audience = removeString(d.Audience, identity)
		return nil
	})
}

// RemoveParticipant removes identity from the roster.
func (s *InMemoryStore) RemoveParticipant(ctx context.Context, id, identity string) error {
	return s.update(id, func(d *Debate) error {
		for i, p := range d.Participants {
			if p.Identity == identity {
				d.Participants = append(d.Participants[:i], d.Participants[i+1:]...)
				return nil
			}
		}
		return ErrParticipantNotFound
	})
}

// SetSpeaking sets the speaking flag of a roster entry.
func (s *InMemoryStore) SetSpeaking(ctx context.Context, id, identity string, speaking bool) error {
	return s.update(id, func(d *Debate) error {
		for i := range d.Participants {
			if d.Participants[i].Identity == identity {
				d.Participants[i].Speaking = speaking
				return nil
			}
		}
		return ErrParticipantNotFound
	})
}

func (s *InMemoryStore) update(id string, fn func(d *Debate) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debates[id]
	if !ok {
		return ErrDebateNotFound
	}
	c := d.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	s.debates[id] = c
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
