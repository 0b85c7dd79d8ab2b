package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the processing state of a queue item
type ItemStatus string

// Possible queue item status values
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Common validation errors for QueueItem
var (
	ErrEmptyItemID     = errors.New("queue item ID cannot be empty")
	ErrEmptyItemNoteID = errors.New("queue item note ID cannot be empty")
	ErrEmptyAudioPath  = errors.New("queue item audio path cannot be empty")
	ErrInvalidStatus   = errors.New("invalid queue item status")
)

// QueueItem represents one unit of deferred transcription work.
// The durable copy lives in the job queue store; the worker only ever
// holds transient handles keyed by NoteID.
type QueueItem struct {
	ID         uuid.UUID  `json:"id"`
	NoteID     uuid.UUID  `json:"note_id"`
	AudioPath  string     `json:"audio_path"`
	Status     ItemStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  *string    `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewQueueItem creates a pending QueueItem for the given note and audio file.
// It generates a new UUID for the item and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewQueueItem(noteID uuid.UUID, audioPath string) (*QueueItem, error) {
	item := &QueueItem{
		ID:        uuid.New(),
		NoteID:    noteID,
		AudioPath: audioPath,
		Status:    ItemStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// Validate checks if the QueueItem has valid data.
// Returns an error if any field fails validation.
func (i *QueueItem) Validate() error {
	if i.ID == uuid.Nil {
		return ErrEmptyItemID
	}

	if i.NoteID == uuid.Nil {
		return ErrEmptyItemNoteID
	}

	if i.AudioPath == "" {
		return ErrEmptyAudioPath
	}

	if !isValidItemStatus(i.Status) {
		return ErrInvalidStatus
	}

	if i.RetryCount < 0 {
		return ErrInvalidStatus
	}

	return nil
}

// IsTerminal reports whether the item has reached a state from which the
// worker will not move it on its own. A failed item is only terminal once
// its retry budget is exhausted, which the worker decides; here "terminal"
// means completed.
func (i *QueueItem) IsTerminal() bool {
	return i.Status == ItemStatusCompleted
}

func isValidItemStatus(status ItemStatus) bool {
	switch status {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted, ItemStatusFailed:
		return true
	default:
		return false
	}
}
