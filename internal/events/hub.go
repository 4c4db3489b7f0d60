package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// ErrClosed is returned when broadcasting on a closed Hub.
var ErrClosed = errors.New("hub closed")

// Hub delivers events to in-process subscribers. A subscriber whose queue
// is full misses the event; broadcasters never block.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
}

// Subscription receives events for one mission, or for every mission when
// created with an empty ID.
type Subscription struct {
	hub       *Hub
	id        uint64
	missionID string
	ch        chan Event
	dropped   atomic.Int64
	once      sync.Once
}

// NewHub creates a Hub. A non-positive bufferSize selects DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{subs: make(map[uint64]*Subscription), bufferSize: bufferSize}
}

// Subscribe registers a subscriber. Pass "" to receive every mission.
func (h *Hub) Subscribe(missionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:       h,
		id:        h.nextID,
		missionID: missionID,
		ch:        make(chan Event, h.bufferSize),
	}
	if h.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Broadcast queues ev for every matching subscriber.
func (h *Hub) Broadcast(_ context.Context, missionID string, ev Event) error {
	// Sends happen under the lock so that concurrent broadcasters cannot
	// reorder the events a single subscriber sees.
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for _, sub := range h.subs {
		if sub.missionID != "" && sub.missionID != missionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were lost to a full queue.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}

var _ Sink = (*Hub)(nil)
