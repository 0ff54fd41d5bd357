package tipwatcher

import (
	"sync"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
)

// Broadcaster fans events out to any number of subscribers. Delivery is
// at-most-once-may-skip: a subscriber whose backlog is full loses its
// oldest buffered event instead of stalling the producer.
type Broadcaster struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's view of the event sequence. The channel
// is closed when the watcher terminates or Unsubscribe is called.
type Subscription struct {
	b  *Broadcaster
	ch chan domain.Event
}

// Events returns the subscriber's event channel.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s]; !ok {
		return
	}
	delete(s.b.subs, s)
	close(s.ch)
}

// NewBroadcaster creates a broadcaster with the given per-subscriber backlog.
func NewBroadcaster(capacity int) *Broadcaster {
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. Subscribing after the broadcaster
// closed yields an already-closed channel.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{b: b, ch: make(chan domain.Event, b.capacity)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers an event to every subscriber.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		// Full: evict the oldest buffered event to make room. The
		// subscriber may race us for it, so retry the send either way.
		select {
		case <-sub.ch:
			metrics.EventsDropped.Inc()
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Close closes every subscription channel. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
