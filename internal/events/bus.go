// Package events provides the process-scoped signal bus that decouples the
// HTTP client from the session manager.
package events

import (
	"context"
	"sync"
)

// Topic names a class of events.
type Topic string

const (
	// TopicSessionInvalidated is published when the remote side answered 401.
	TopicSessionInvalidated Topic = "session.invalidated"
)

// Event is a published signal. Source fields describe the request that
// triggered it; Meta is copied from the request's metadata.
type Event struct {
	Topic  Topic
	Status int
	Method string
	URL    string
	Meta   map[string]string
}

// Handler receives events for a subscribed topic.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus delivers events synchronously to subscribers in subscription order.
// The zero value is not usable; construct with NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[topic]
			for i, s := range subs {
				if s.id == id {
					b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every subscriber of ev.Topic. Handlers run on the
// caller's goroutine; the subscriber list is snapshotted first so handlers
// may subscribe or unsubscribe freely.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, ev)
	}
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
