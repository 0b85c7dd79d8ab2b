package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// MockHandler records every event it receives and can be configured to fail.
type MockHandler struct {
	HandledCount int
	LastEvent    Event
	HandlerError error
}

func (h *MockHandler) HandleEvent(ctx context.Context, event Event) error {
	h.HandledCount++
	h.LastEvent = event
	return h.HandlerError
}

func TestInMemoryBus(t *testing.T) {
	// Create a minimal logger that discards output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("publish with no handlers", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		err := bus.Publish(context.Background(), NewItemAdded(uuid.New()))
		assert.NoError(t, err)
	})

	t.Run("publish reaches all matching handlers", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		handler1 := &MockHandler{}
		handler2 := &MockHandler{}

		bus.Subscribe(EventItemCompleted, handler1)
		bus.Subscribe(EventItemCompleted, handler2)

		event := NewItemCompleted(uuid.New())
		err := bus.Publish(context.Background(), event)
		assert.NoError(t, err)

		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Equal(t, event, handler1.LastEvent)
		assert.Equal(t, event, handler2.LastEvent)
	})

	t.Run("handlers only see their subscribed type", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		added := &MockHandler{}
		failed := &MockHandler{}

		bus.Subscribe(EventItemAdded, added)
		bus.Subscribe(EventItemFailed, failed)

		err := bus.Publish(context.Background(), NewItemAdded(uuid.New()))
		assert.NoError(t, err)

		assert.Equal(t, 1, added.HandledCount)
		assert.Equal(t, 0, failed.HandledCount)
	})

	t.Run("failing handler does not block others", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		successHandler := &MockHandler{}
		failingHandler := &MockHandler{
			HandlerError: errors.New("handler error"),
		}

		bus.Subscribe(EventPausedChanged, failingHandler)
		bus.Subscribe(EventPausedChanged, successHandler)

		err := bus.Publish(context.Background(), NewPausedChanged(true))
		assert.Error(t, err)
		assert.Equal(t, "handler error", err.Error())

		// Both handlers should still have received the event
		assert.Equal(t, 1, successHandler.HandledCount)
		assert.Equal(t, 1, failingHandler.HandledCount)
	})

	t.Run("cancelled subscription stops receiving", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		handler := &MockHandler{}
		sub := bus.Subscribe(EventItemAdded, handler)

		err := bus.Publish(context.Background(), NewItemAdded(uuid.New()))
		assert.NoError(t, err)
		assert.Equal(t, 1, handler.HandledCount)

		sub.Cancel()
		sub.Cancel() // second cancel is a no-op

		err = bus.Publish(context.Background(), NewItemAdded(uuid.New()))
		assert.NoError(t, err)
		assert.Equal(t, 1, handler.HandledCount)
	})

	t.Run("handler func adapter", func(t *testing.T) {
		bus := NewInMemoryBus(logger)

		var got Event
		bus.Subscribe(EventItemRemoved, HandlerFunc(func(ctx context.Context, event Event) error {
			got = event
			return nil
		}))

		event := NewItemRemoved(uuid.New())
		err := bus.Publish(context.Background(), event)
		assert.NoError(t, err)
		assert.Equal(t, event, got)
	})
}
