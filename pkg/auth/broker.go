package auth

import (
	"sync"
	"time"
)

// EventType identifies a session lifecycle event
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event is emitted when a session starts or ends
type Event struct {
	Type       EventType
	Session    *Session
	OccurredAt time.Time
}

// Listener receives session events
type Listener func(Event)

// Broker fans session events out to listeners.
// Listeners run synchronously in subscription order.
type Broker struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
	order     []uint64
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers a listener and returns a function that removes it
func (b *Broker) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
		for i, existing := range b.order {
			if existing == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to every listener
func (b *Broker) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// SignedIn publishes a sign-in event for session
func (b *Broker) SignedIn(session *Session) {
	b.Publish(Event{Type: EventSignedIn, Session: session})
}

// SignedOut publishes a sign-out event for session
func (b *Broker) SignedOut(session *Session) {
	b.Publish(Event{Type: EventSignedOut, Session: session})
}
