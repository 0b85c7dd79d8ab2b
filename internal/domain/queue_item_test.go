package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewQueueItem(t *testing.T) {
	t.Parallel()
	noteID := uuid.New()
	audioPath := "/var/data/audio/capture-001.wav"

	item, err := NewQueueItem(noteID, audioPath)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if item.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if item.NoteID != noteID {
		t.Errorf("Expected note ID %s, got %s", noteID, item.NoteID)
	}

	if item.Status != ItemStatusPending {
		t.Errorf("Expected status %s, got %s", ItemStatusPending, item.Status)
	}

	if item.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", item.RetryCount)
	}

	if item.LastError != nil {
		t.Errorf("Expected nil last error, got %v", *item.LastError)
	}

	if item.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	// Test invalid note ID
	_, err = NewQueueItem(uuid.Nil, audioPath)
	if err != ErrEmptyItemNoteID {
		t.Errorf("Expected error %v, got %v", ErrEmptyItemNoteID, err)
	}

	// Test empty audio path
	_, err = NewQueueItem(noteID, "")
	if err != ErrEmptyAudioPath {
		t.Errorf("Expected error %v, got %v", ErrEmptyAudioPath, err)
	}
}

func TestQueueItemValidate(t *testing.T) {
	t.Parallel()
	validItem := QueueItem{
		ID:        uuid.New(),
		NoteID:    uuid.New(),
		AudioPath: "/tmp/a.wav",
		Status:    ItemStatusPending,
	}

	if err := validItem.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Invalid status
	invalidStatus := validItem
	invalidStatus.Status = "stalled"
	if err := invalidStatus.Validate(); err != ErrInvalidStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidStatus, err)
	}

	// Negative retry count
	negativeRetries := validItem
	negativeRetries.RetryCount = -1
	if err := negativeRetries.Validate(); err != ErrInvalidStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidStatus, err)
	}
}

func TestQueueItemIsTerminal(t *testing.T) {
	t.Parallel()
	item := QueueItem{
		ID:        uuid.New(),
		NoteID:    uuid.New(),
		AudioPath: "/tmp/a.wav",
		Status:    ItemStatusCompleted,
	}

	if !item.IsTerminal() {
		t.Error("Expected completed item to be terminal")
	}

	for _, status := range []ItemStatus{ItemStatusPending, ItemStatusProcessing, ItemStatusFailed} {
		item.Status = status
		if item.IsTerminal() {
			t.Errorf("Expected %s item not to be terminal", status)
		}
	}
}
