package room

import (
	"context"
	"sync"
	"time"
)

// InMemoryProvider is a Provider that keeps rooms in process. Used when no
// video backend is configured (chat-only deployments) and in tests.
type InMemoryProvider struct {
	mu      sync.Mutex
	rooms   map[string]map[string]bool // key -> identities
	creates map[string]int
	muted   map[string]map[string]bool

	// Fail, when set, is returned by every call. Tests use it to simulate outages.
	Fail error
}

// NewInMemoryProvider creates an empty in-memory provider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		rooms:   make(map[string]map[string]bool),
		creates: make(map[string]int),
		muted:   make(map[string]map[string]bool),
	}
}

// SetFailure sets or clears the simulated failure.
func (p *InMemoryProvider) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fail = err
}

// EnsureRoom creates the room if absent.
func (p *InMemoryProvider) EnsureRoom(ctx context.Context, key string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return Handle{}, p.Fail
	}
	if _, ok := p.rooms[key]; !ok {
		p.rooms[key] = make(map[string]bool)
		p.creates[key]++
	}
	return p.handleLocked(key), nil
}

// EndRoom removes the room.
func (p *InMemoryProvider) EndRoom(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	if _, ok := p.rooms[key]; !ok {
		return ErrRoomNotFound
	}
	delete(p.rooms, key)
	delete(p.muted, key)
	return nil
}

// DisconnectParticipant removes identity from the room.
func (p *InMemoryProvider) DisconnectParticipant(ctx context.Context, key, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	members, ok := p.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	if !members[identity] {
		return ErrParticipantNotFound
	}
	delete(members, identity)
	return nil
}

// MuteParticipant marks identity's microphone as muted in the room.
func (p *InMemoryProvider) MuteParticipant(ctx context.Context, key, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	members, ok := p.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	if !members[identity] {
		return ErrParticipantNotFound
	}
	if p.muted[key] == nil {
		p.muted[key] = make(map[string]bool)
	}
	p.muted[key][identity] = true
	return nil
}

// RoomStatus reports the room state.
func (p *InMemoryProvider) RoomStatus(ctx context.Context, key string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return Handle{}, p.Fail
	}
	return p.handleLocked(key), nil
}

// Connect simulates a client attaching media to the room.
func (p *InMemoryProvider) Connect(key, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	members[identity] = true
	return nil
}

// Connected reports whether identity has media attached to the room.
func (p *InMemoryProvider) Connected(key, identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rooms[key][identity]
}

// Muted reports whether identity was muted by the server.
func (p *InMemoryProvider) Muted(key, identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted[key][identity]
}

// CreateCount returns how many times the room for key was actually created.
func (p *InMemoryProvider) CreateCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates[key]
}

func (p *InMemoryProvider) handleLocked(key string) Handle {
	members, ok := p.rooms[key]
	if !ok {
		return Handle{Key: key, Status: StatusAbsent, ObservedAt: time.Now()}
	}
	return Handle{Key: key, Status: StatusCreated, ParticipantCount: len(members), ObservedAt: time.Now()}
}
