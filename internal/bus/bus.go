package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans domain events out to subscribers by kind prefix. Delivery
// is non-blocking: a subscriber that cannot keep up loses events
// rather than stalling the send pipeline, and the loss is counted so
// an undersized buffer shows up in diagnostics instead of as silent
// missed updates.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers an event to every subscriber whose namespace is a
// prefix of evt.Kind. A zero timestamp is stamped with the current
// time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishKind publishes a freshly timestamped event. It is the common
// path for the sync machinery, which never needs to backdate events.
func (b *Bus) PublishKind(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize controls the channel buffer. The returned
// function cancels the subscription and may be called more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	sub := &subscription{namespace: namespace, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many events have been lost to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
