// Package bus provides an internal pub/sub event bus for pipeline
// components.
package bus

import "sync"

// EventType identifies different event types
type EventType string

// Event types emitted by the pipeline
const (
	// Session lifecycle
	EventTypeSessionStateChanged EventType = "session.state_changed"
	EventTypeSessionFailed       EventType = "session.failed"

	// Source lifecycle
	EventTypeSourceAcquired     EventType = "source.acquired"
	EventTypeSourceLost         EventType = "source.lost"
	EventTypeSourceChanged      EventType = "source.changed"
	EventTypeSourceReconnecting EventType = "source.reconnecting"

	// Classification
	EventTypeVisemeUpdated   EventType = "viseme.updated"
	EventTypeFallbackEngaged EventType = "classifier.fallback_engaged"
	EventTypeFrameDropped    EventType = "classifier.frame_dropped"
	EventTypeBankReloaded    EventType = "classifier.bank_reloaded"
)

// Event is one bus message.
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler handles events.
type Handler func(Event)

// EventBus is a simple pub/sub event bus.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]Handler)}
}

// Subscribe adds a handler for an event type.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers without blocking
// the publisher.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete.
func (b *EventBus) PublishSync(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
