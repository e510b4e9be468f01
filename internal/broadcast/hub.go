package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultQueueSize is the per-subscriber queue bound.
const DefaultQueueSize = 64

// ErrSubscriptionClosed is returned by Next once a closed subscription has
// been drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Options configures a Hub.
type Options struct {
	// QueueSize bounds each subscriber's outbound queue.
	QueueSize int
	// OnDrop is called when events are dropped from a subscriber's queue.
	OnDrop func(debateID string, dropped int)
	// Now is the clock used to stamp events; defaults to time.Now.
	Now func() time.Time
}

type topic struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[string]*Subscription // connection id -> subscription
	closed bool
}

// Hub is the per-debate publish/subscribe fabric. Topics are independent;
// publishing to one debate never takes another debate's lock.
type Hub struct {
	topics sync.Map // debate id -> *topic
	opts   Options
}

// NewHub creates a hub.
func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{opts: opts}
}

// lockTopic returns the open topic for debateID with its lock held.
func (h *Hub) lockTopic(debateID string, create bool) *topic {
	for {
		var t *topic
		if v, ok := h.topics.Load(debateID); ok {
			t = v.(*topic)
		} else if create {
			v, _ := h.topics.LoadOrStore(debateID, &topic{subs: make(map[string]*Subscription)})
			t = v.(*topic)
		} else {
			return nil
		}
		t.mu.Lock()
		if !t.closed {
			return t
		}
		t.mu.Unlock()
		if !create {
			return nil
		}
	}
}

// Subscribe attaches connID to debateID. An existing subscription for the
// same connection is closed and replaced.
func (h *Hub) Subscribe(debateID, connID string) *Subscription {
	t := h.lockTopic(debateID, true)
	defer t.mu.Unlock()

	if old, ok := t.subs[connID]; ok {
		old.close()
	}
	s := &Subscription{
		debateID: debateID,
		connID:   connID,
		size:     h.opts.QueueSize,
		notify:   make(chan struct{}, 1),
		onDrop:   h.opts.OnDrop,
	}
	t.subs[connID] = s
	return s
}

// Unsubscribe detaches connID. Events already queued remain readable.
func (h *Hub) Unsubscribe(debateID, connID string) {
	t := h.lockTopic(debateID, false)
	if t == nil {
		return
	}
	defer t.mu.Unlock()

	if s, ok := t.subs[connID]; ok {
		s.close()
		delete(t.subs, connID)
	}
}

// Publish stamps ev with the debate's next sequence number and enqueues it
// for every current subscriber. It never blocks on a subscriber. The
// stamped event is returned.
func (h *Hub) Publish(debateID string, ev Event) Event {
	t := h.lockTopic(debateID, true)
	defer t.mu.Unlock()

	t.seq++
	ev.DebateID = debateID
	ev.Seq = t.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.opts.Now()
	}
	for _, s := range t.subs {
		s.push(ev)
	}
	return ev
}

// CloseTopic detaches every subscriber of debateID and forgets the topic.
// Subscribers can still drain what was queued, so a final event published
// just before CloseTopic is delivered. It returns the number of subscribers
// that were attached.
func (h *Hub) CloseTopic(debateID string) int {
	v, ok := h.topics.LoadAndDelete(debateID)
	if !ok {
		return 0
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	n := len(t.subs)
	for _, s := range t.subs {
		s.close()
	}
	t.subs = nil
	return n
}

// Subscribers returns the number of subscribers attached to debateID.
func (h *Hub) Subscribers(debateID string) int {
	t := h.lockTopic(debateID, false)
	if t == nil {
		return 0
	}
	defer t.mu.Unlock()
	return len(t.subs)
}

// Subscription is one connection's bounded view of a debate's events.
type Subscription struct {
	debateID string
	connID   string
	size     int
	onDrop   func(debateID string, dropped int)

	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
}

// DebateID returns the debate this subscription follows.
func (s *Subscription) DebateID() string { return s.debateID }

// ConnectionID returns the subscribing connection.
func (s *Subscription) ConnectionID() string { return s.connID }

// push enqueues ev. When the queue already holds size events the oldest one
// is dropped and accounted for in a single Overflow marker kept at the head.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	dropped := false
	marker := len(s.queue) > 0 && s.queue[0].Type == TypeOverflow
	pending := len(s.queue)
	if marker {
		pending--
	}
	if pending >= s.size {
		dropped = true
		if marker {
			s.queue[0].Overflow.Dropped++
			s.queue = append(s.queue[:1], s.queue[2:]...)
		} else {
			s.queue[0] = Event{
				Type:      TypeOverflow,
				DebateID:  s.debateID,
				Seq:       s.queue[0].Seq,
				Timestamp: ev.Timestamp,
				Overflow:  &Overflow{Dropped: 1},
			}
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	if dropped && s.onDrop != nil {
		s.onDrop(s.debateID, 1)
	}
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Next blocks until an event is available, the subscription is closed and
// drained, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrSubscriptionClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events, including any overflow
// marker.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
