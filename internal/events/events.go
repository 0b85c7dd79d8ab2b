package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event for subscription filtering.
type EventType string

// Event types published by the queue worker and transfer manager.
const (
	EventItemAdded     EventType = "item_added"
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventItemRemoved   EventType = "item_removed"
	EventPausedChanged EventType = "paused_changed"
)

// Event is implemented by all payloads published on the bus. Payloads are
// immutable once published.
type Event interface {
	// Type returns the event type used for subscription filtering
	Type() EventType

	// OccurredAt returns the timestamp when the event was created
	OccurredAt() time.Time
}

// base carries the fields shared by every event payload.
type base struct {
	At time.Time `json:"occurred_at"`
}

func newBase() base {
	return base{At: time.Now().UTC()}
}

// OccurredAt returns the timestamp when the event was created
func (b base) OccurredAt() time.Time {
	return b.At
}

// ItemAdded is published after a new queue item has been persisted.
type ItemAdded struct {
	base
	NoteID uuid.UUID `json:"note_id"`
}

// NewItemAdded creates an ItemAdded event for the given note.
func NewItemAdded(noteID uuid.UUID) ItemAdded {
	return ItemAdded{base: newBase(), NoteID: noteID}
}

// Type returns the event type used for subscription filtering
func (ItemAdded) Type() EventType { return EventItemAdded }

// ItemStarted is published when the worker begins processing an item.
type ItemStarted struct {
	base
	NoteID uuid.UUID `json:"note_id"`
}

// NewItemStarted creates an ItemStarted event for the given note.
func NewItemStarted(noteID uuid.UUID) ItemStarted {
	return ItemStarted{base: newBase(), NoteID: noteID}
}

// Type returns the event type used for subscription filtering
func (ItemStarted) Type() EventType { return EventItemStarted }

// ItemCompleted is published after an item has been marked completed in the
// store.
type ItemCompleted struct {
	base
	NoteID uuid.UUID `json:"note_id"`
}

// NewItemCompleted creates an ItemCompleted event for the given note.
func NewItemCompleted(noteID uuid.UUID) ItemCompleted {
	return ItemCompleted{base: newBase(), NoteID: noteID}
}

// Type returns the event type used for subscription filtering
func (ItemCompleted) Type() EventType { return EventItemCompleted }

// ItemFailed is published after an item has been marked failed in the store.
// Terminal reports whether the retry budget is exhausted.
type ItemFailed struct {
	base
	NoteID     uuid.UUID `json:"note_id"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	Terminal   bool      `json:"terminal"`
}

// NewItemFailed creates an ItemFailed event for the given note.
func NewItemFailed(noteID uuid.UUID, errMsg string, retryCount int, terminal bool) ItemFailed {
	return ItemFailed{
		base:       newBase(),
		NoteID:     noteID,
		Error:      errMsg,
		RetryCount: retryCount,
		Terminal:   terminal,
	}
}

// Type returns the event type used for subscription filtering
func (ItemFailed) Type() EventType { return EventItemFailed }

// ItemRemoved is published after an item has been deleted from the queue.
type ItemRemoved struct {
	base
	NoteID uuid.UUID `json:"note_id"`
}

// NewItemRemoved creates an ItemRemoved event for the given note.
func NewItemRemoved(noteID uuid.UUID) ItemRemoved {
	return ItemRemoved{base: newBase(), NoteID: noteID}
}

// Type returns the event type used for subscription filtering
func (ItemRemoved) Type() EventType { return EventItemRemoved }

// PausedChanged is published after the persisted pause flag has been toggled.
type PausedChanged struct {
	base
	IsPaused bool `json:"is_paused"`
}

// NewPausedChanged creates a PausedChanged event.
func NewPausedChanged(isPaused bool) PausedChanged {
	return PausedChanged{base: newBase(), IsPaused: isPaused}
}

// Type returns the event type used for subscription filtering
func (PausedChanged) Type() EventType { return EventPausedChanged }

// Handler processes events delivered by the bus. Delivery is synchronous:
// Publish does not return until every matching handler has run.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent calls the wrapped function.
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the write side of the bus.
type Publisher interface {
	// Publish delivers the event to all handlers subscribed to its type.
	// Returns the first handler error encountered; remaining handlers still run.
	Publish(ctx context.Context, event Event) error
}

// Subscriber is the read side of the bus.
type Subscriber interface {
	// Subscribe registers a handler for the given event type and returns a
	// subscription that can be cancelled.
	Subscribe(eventType EventType, handler Handler) *Subscription
}

// Bus combines both sides; the worker and transfer manager take this.
type Bus interface {
	Publisher
	Subscriber
}
