package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler is a callback invoked for every event of a subscribed type.
type Handler func(*Event)

// Bus is an in-process publish/subscribe hub. Callback subscribers are
// invoked synchronously from Emit; channel subscribers receive a copy
// with a bounded buffer and are dropped-to when full rather than
// blocking the emitter.
type Bus struct {
	handlers map[EventType][]Handler
	streams  map[chan Event]struct{}
	log      zerolog.Logger
	wildcard []Handler
	mu       sync.RWMutex
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		streams:  make(map[chan Event]struct{}),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler invoked for every event type
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// SubscribeChan registers a buffered channel subscription. The returned
// cancel function removes the subscription and closes the channel.
func (b *Bus) SubscribeChan(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.streams[ch] = struct{}{}
	total := len(b.streams)
	b.mu.Unlock()

	b.log.Debug().Int("total_subscribers", total).Msg("Stream subscriber added")

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.streams[ch]; ok {
			delete(b.streams, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit publishes an event to all subscribers and logs it
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType])+len(b.wildcard))
	handlers = append(handlers, b.handlers[eventType]...)
	handlers = append(handlers, b.wildcard...)
	streams := make([]chan Event, 0, len(b.streams))
	for ch := range b.streams {
		streams = append(streams, ch)
	}
	b.mu.RUnlock()

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Event emitted")

	for _, h := range handlers {
		h(&event)
	}

	for _, ch := range streams {
		select {
		case ch <- event:
		default:
			b.log.Warn().
				Str("event_type", string(eventType)).
				Msg("Stream subscriber full, event dropped")
		}
	}
}

// EmitTyped publishes an event carrying typed data
func (b *Bus) EmitTyped(module string, data EventData) {
	b.Emit(data.EventType(), module, ToMap(data))
}

// EmitError publishes an ErrorOccurred event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	b.EmitTyped(module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}
