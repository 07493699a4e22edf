// Package events delivers dashboard state changes to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a kind of dashboard event
type EventType string

const (
	StateChanged        EventType = "state_changed"
	NotificationChanged EventType = "notification_changed"
	SnapshotPublished   EventType = "snapshot_published"
)

// AllTypes lists every event type in publish order
var AllTypes = []EventType{StateChanged, NotificationChanged, SnapshotPublished}

// Event is one published change
type Event struct {
	Type      EventType   `json:"type"`
	Session   string      `json:"session"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler receives events
type Handler func(event *Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe hub
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
	log    zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for eventType and returns a function that
// removes it again
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every handler subscribed to its type, in
// subscription order
func (b *Bus) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[event.Type]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.handler, event)
	}
}

// deliver runs one handler; a panicking handler does not stop the others
func (b *Bus) deliver(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}
