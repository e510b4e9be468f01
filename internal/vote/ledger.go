// Package vote records which identities have voted in a debate so repeated
// votes leave the tally unchanged.
package vote

import (
	"context"
	"sync"
)

// Ledger tracks voters per debate.
type Ledger interface {
	// MarkVoted records identity as having voted. first is false when the
	// identity had already voted.
	MarkVoted(ctx context.Context, debateID, identity string) (first bool, err error)
	// Unmark forgets a vote, used when persisting the tally fails.
	Unmark(ctx context.Context, debateID, identity string) error
	// HasVoted reports whether identity has voted.
	HasVoted(ctx context.Context, debateID, identity string) (bool, error)
	// Clear drops all voters of a debate.
	Clear(ctx context.Context, debateID string) error
}

// InMemoryLedger is a process-local Ledger.
type InMemoryLedger struct {
	mu     sync.Mutex
	voters map[string]map[string]struct{}
}

// NewInMemoryLedger creates an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{voters: make(map[string]map[string]struct{})}
}

func (l *InMemoryLedger) MarkVoted(ctx context.Context, debateID, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.voters[debateID]
	if !ok {
		set = make(map[string]struct{})
		l.voters[debateID] = set
	}
	if _, voted := set[identity]; voted {
		return false, nil
	}
	set[identity] = struct{}{}
	return true, nil
}

func (l *InMemoryLedger) Unmark(ctx context.Context, debateID, identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.voters[debateID], identity)
	return nil
}

func (l *InMemoryLedger) HasVoted(ctx context.Context, debateID, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.voters[debateID][identity]
	return ok, nil
}

func (l *InMemoryLedger) Clear(ctx context.Context, debateID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.voters, debateID)
	return nil
}
