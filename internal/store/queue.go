package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echonote-api/internal/domain"
)

// JobQueueStore is the durable queue consumed by the worker. Implementations
// must provide atomic claim semantics: ClaimNextPending may never hand the
// same item to two callers, even when a foreground worker and a periodic
// background check race on the same queue.
type JobQueueStore interface {
	// Enqueue persists a new pending queue item.
	Enqueue(ctx context.Context, item *domain.QueueItem) error

	// ClaimNextPending atomically fetches the oldest pending item (FIFO by
	// creation time) and marks it processing. Returns ErrItemNotFound when
	// the queue is idle.
	ClaimNextPending(ctx context.Context) (*domain.QueueItem, error)

	// GetItem returns the queue item for the given note.
	// Returns ErrItemNotFound if none exists.
	GetItem(ctx context.Context, noteID uuid.UUID) (*domain.QueueItem, error)

	// MarkCompleted transitions the item for the given note to completed.
	MarkCompleted(ctx context.Context, noteID uuid.UUID) error

	// MarkFailed transitions the item to failed, records the error text and
	// increments the retry count. Returns the new retry count.
	MarkFailed(ctx context.Context, noteID uuid.UUID, errMsg string) (int, error)

	// RequeueForRetry flips a failed item back to pending. Used by retry
	// timers and by manual requeue; never called for completed items.
	RequeueForRetry(ctx context.Context, noteID uuid.UUID) error

	// ResetStuckItems demotes processing items back to pending. With a zero
	// olderThan every processing row is demoted (startup crash recovery: no
	// worker holds anything yet); with a non-zero olderThan only rows that
	// have sat in processing longer than that age are touched (the periodic
	// stuck check, which must not demote the in-flight item). Returns the
	// number demoted.
	ResetStuckItems(ctx context.Context, olderThan time.Duration) (int, error)

	// RequeueRetryableFailures demotes failed items whose retry count is
	// still below maxRetries back to pending, so work interrupted by a
	// restart is retried without waiting for timers that no longer exist.
	// Returns the number demoted.
	RequeueRetryableFailures(ctx context.Context, maxRetries int) (int, error)

	// DeleteItem removes the queue item for the given note.
	DeleteItem(ctx context.Context, noteID uuid.UUID) error

	// CountByStatus returns the number of items in each status.
	CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error)

	// IsPaused reports the persisted pause flag. The flag lives in the store
	// rather than in worker memory so every consumer of the queue observes
	// the same paused state.
	IsPaused(ctx context.Context) (bool, error)

	// SetPaused persists the pause flag.
	SetPaused(ctx context.Context, paused bool) error
}

// NoteStore persists the notes that queue items operate on, including the
// derived transcript/summary metadata written on successful processing.
type NoteStore interface {
	// CreateNote persists a new note.
	CreateNote(ctx context.Context, note *domain.Note) error

	// GetNote returns the note with the given ID.
	// Returns ErrNoteNotFound if none exists.
	GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error)

	// UpdateNoteStatus updates a note's lifecycle status.
	UpdateNoteStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error

	// SaveTranscript stores the pipeline output for a note and marks it
	// completed. Summary may be nil when the summary stage is disabled.
	SaveTranscript(ctx context.Context, id uuid.UUID, transcript string, summary *string) error
}

// KeyValueStore is a small persisted settings surface for flags and resume
// metadata. Implementations must tolerate concurrent access.
type KeyValueStore interface {
	// Get returns the value for key. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key, creating or replacing it.
	Set(ctx context.Context, key, value string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns every key/value pair whose key starts with prefix.
	ListPrefix(ctx context.Context, prefix string) (map[string]string, error)
}
