package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNilLog is returned when a nil log is passed to LogAction.
	ErrNilLog = errors.New("audit log cannot be nil")
	// ErrInvalidDebateID is returned when an entry has no debate.
	ErrInvalidDebateID = errors.New("debate ID cannot be empty")
	// ErrInvalidAction is returned when an entry has no action.
	ErrInvalidAction = errors.New("action cannot be empty")
	// ErrInvalidOutcome is returned for an unknown outcome.
	ErrInvalidOutcome = errors.New("outcome must be success, denied or failure")
)

// DefaultCapacity is the number of records an InMemoryLog retains.
const DefaultCapacity = 10000

// Log stores audit records.
type Log interface {
	// Append records entry and returns the stored copy.
	Append(ctx context.Context, entry Entry) (*Record, error)

	// ByDebate returns a debate's records, newest first. A limit of 0
	// returns all of them.
	ByDebate(ctx context.Context, debateID string, limit int) ([]*Record, error)
}

func validateEntry(e Entry) error {
	if e.DebateID == "" {
		return ErrInvalidDebateID
	}
	if e.Action == "" {
		return ErrInvalidAction
	}
	if !e.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	return nil
}

// InMemoryLog is a bounded, hash-chained Log. Once full, the oldest records
// are discarded; the chain stays verifiable from the oldest retained record.
// Thread-safe via RWMutex.
type InMemoryLog struct {
	mu       sync.RWMutex
	records  []*Record
	capacity int
	lastHash string
	now      func() time.Time
}

// NewInMemoryLog creates a log holding up to capacity records. A capacity of
// 0 or less uses DefaultCapacity.
func NewInMemoryLog(capacity int) *InMemoryLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryLog{capacity: capacity, now: time.Now}
}

// Append implements Log.
func (l *InMemoryLog) Append(ctx context.Context, entry Entry) (*Record, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &Record{
		ID:           uuid.New().String(),
		DebateID:     entry.DebateID,
		Actor:        entry.Actor,
		Action:       entry.Action,
		Target:       entry.Target,
		Outcome:      entry.Outcome,
		Reason:       entry.Reason,
		RequestID:    entry.RequestID,
		CreatedAt:    l.now().UTC(),
		PreviousHash: l.lastHash,
	}
	l.lastHash = rec.hash()
	l.records = append(l.records, rec)

	if len(l.records) > l.capacity {
		// Trim in batches so appends stay amortized O(1).
		drop := len(l.records) - l.capacity + l.capacity/10
		l.records = append([]*Record(nil), l.records[drop:]...)
	}

	c := *rec
	return &c, nil
}

// ByDebate implements Log.
func (l *InMemoryLog) ByDebate(ctx context.Context, debateID string, limit int) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if r.DebateID != debateID {
			continue
		}
		c := *r
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of retained records.
func (l *InMemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// LastHash returns the hash of the newest record, or "" when empty.
func (l *InMemoryLog) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastHash
}

// VerifyHashChain checks that every retained record links to its
// predecessor. It reports false with the index of the first broken link.
func (l *InMemoryLog) VerifyHashChain() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.records, l.lastHash)
}

func verify(records []*Record, last string) (bool, error) {
	for i := 1; i < len(records); i++ {
		if records[i].PreviousHash != records[i-1].hash() {
			return false, fmt.Errorf("audit chain broken at record %d (%s)", i, records[i].ID)
		}
	}
	if n := len(records); n > 0 && records[n-1].hash() != last {
		return false, fmt.Errorf("audit chain head does not match record %s", records[n-1].ID)
	}
	return true, nil
}
