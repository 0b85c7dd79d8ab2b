package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryBus is a synchronous implementation of the Bus interface that
// stores registered handlers in memory and dispatches events to the handlers
// subscribed to each event's type. There is no queuing and no persistence;
// delivery is fire-and-forget from the publisher's point of view.
type InMemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType]map[int]Handler
	logger *slog.Logger
}

// Subscription represents one registered handler. Cancelling it removes the
// handler from the bus; cancelling twice is harmless.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the subscription's handler from the bus.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// NewInMemoryBus creates a new instance of InMemoryBus.
func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	return &InMemoryBus{
		subs:   make(map[EventType]map[int]Handler),
		logger: logger.With("component", "in_memory_bus"),
	}
}

// Subscribe registers a handler for the given event type and returns a
// cancellable subscription.
func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]Handler)
	}
	b.subs[eventType][id] = handler

	b.logger.Debug("registered event handler",
		"event_type", eventType,
		"handler_count", len(b.subs[eventType]))

	return &Subscription{
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[eventType], id)
		},
	}
}

// Publish delivers the event synchronously to every handler subscribed to
// its type. If a handler returns an error, the event is still delivered to
// all remaining handlers and the first error encountered is returned.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type()]))
	for _, h := range b.subs[event.Type()] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		"event_type", event.Type(),
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			b.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_type", event.Type())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Ensure InMemoryBus implements the Bus interface
var _ Bus = (*InMemoryBus)(nil)
