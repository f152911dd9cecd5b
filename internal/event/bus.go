// Package event provides the named-topic listener bus that connects the
// session controller and catalog cache to the UI layer.
//
// Listeners for a topic are invoked synchronously in registration order. A
// panicking listener is recovered and logged so it never prevents later
// listeners from firing or interrupts the operation that emitted the event.
package event

import (
	"log/slog"
	"sync"
)

// Topic names every event the core emits.
type Topic string

const (
	SessionStart  Topic = "sessionStart"
	SessionStop   Topic = "sessionStop"
	SessionUpdate Topic = "sessionUpdate"
	SessionClear  Topic = "sessionClear"
	CardAdded     Topic = "cardAdded"
	CardRemoved   Topic = "cardRemoved"
	SetsLoaded    Topic = "setsLoaded"
	SetsFiltered  Topic = "setsFiltered"
)

// Handler receives the payload emitted for a topic.
type Handler func(payload any)

// Bus is a keyed listener map with dispatch-as-iteration semantics.
// All methods are safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	listeners map[Topic][]entry
	nextID    int
}

type entry struct {
	id int
	fn Handler
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Topic][]entry)}
}

// On registers handler for topic and returns an unsubscribe function.
// Handlers fire in registration order.
func (b *Bus) On(topic Topic, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[topic] = append(b.listeners[topic], entry{id: id, fn: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.listeners[topic]
		for i, e := range list {
			if e.id == id {
				b.listeners[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches payload to every listener registered for topic, in
// registration order. A listener panic is recovered and logged; remaining
// listeners still fire.
func (b *Bus) Emit(topic Topic, payload any) {
	b.mu.Lock()
	list := make([]entry, len(b.listeners[topic]))
	copy(list, b.listeners[topic])
	b.mu.Unlock()

	for _, e := range list {
		dispatch(topic, e, payload)
	}
}

func dispatch(topic Topic, e entry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked",
				"topic", string(topic),
				"panic", r,
			)
		}
	}()
	e.fn(payload)
}
