package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, scope string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[scope]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *rec
	return &cp, nil
}

// Store implements Repository.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if record.Scope == "" {
		return ErrInvalidKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Scope]; exists {
		return ErrKeyExists
	}
	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.records[cp.Scope] = &cp
	return nil
}

// DeleteOlderThan implements Repository.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for scope, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, scope)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
