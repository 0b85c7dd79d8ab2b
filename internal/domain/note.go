package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NoteStatus mirrors the queue item lifecycle on the note itself so that
// readers of a note never need to join against the job queue.
type NoteStatus string

// Possible note status values
const (
	NoteStatusPending    NoteStatus = "pending"
	NoteStatusProcessing NoteStatus = "processing"
	NoteStatusCompleted  NoteStatus = "completed"
	NoteStatusFailed     NoteStatus = "failed"
)

// Common validation errors for Note
var (
	ErrEmptyNoteID       = errors.New("note ID cannot be empty")
	ErrEmptyNoteAudio    = errors.New("note audio path cannot be empty")
	ErrInvalidNoteStatus = errors.New("invalid note status")
)

// Note is a captured audio note awaiting or holding a transcript. Transcript
// and Summary stay nil until the processing pipeline produces them.
type Note struct {
	ID         uuid.UUID  `json:"id"`
	AudioPath  string     `json:"audio_path"`
	Transcript *string    `json:"transcript,omitempty"`
	Summary    *string    `json:"summary,omitempty"`
	Status     NoteStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewNote creates a pending Note for the given audio file.
// Returns an error if validation fails.
func NewNote(audioPath string) (*Note, error) {
	note := &Note{
		ID:        uuid.New(),
		AudioPath: audioPath,
		Status:    NoteStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := note.Validate(); err != nil {
		return nil, err
	}

	return note, nil
}

// Validate checks if the Note has valid data.
func (n *Note) Validate() error {
	if n.ID == uuid.Nil {
		return ErrEmptyNoteID
	}

	if n.AudioPath == "" {
		return ErrEmptyNoteAudio
	}

	if !isValidNoteStatus(n.Status) {
		return ErrInvalidNoteStatus
	}

	return nil
}

func isValidNoteStatus(status NoteStatus) bool {
	switch status {
	case NoteStatusPending, NoteStatusProcessing, NoteStatusCompleted, NoteStatusFailed:
		return true
	default:
		return false
	}
}
