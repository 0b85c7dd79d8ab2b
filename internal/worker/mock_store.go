package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/store"
)

// MockQueueStore is an in-memory implementation of store.JobQueueStore for
// testing. Items keep their insertion order, which stands in for FIFO by
// creation time. Individual methods can be overridden via the ...Fn fields.
type MockQueueStore struct {
	mu     sync.Mutex
	items  []*domain.QueueItem
	paused bool

	ClaimFn      func(ctx context.Context) (*domain.QueueItem, error)
	MarkFailedFn func(ctx context.Context, noteID uuid.UUID, errMsg string) (int, error)
}

// NewMockQueueStore creates an empty MockQueueStore.
func NewMockQueueStore() *MockQueueStore {
	return &MockQueueStore{}
}

// Enqueue persists a new pending queue item.
func (s *MockQueueStore) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items = append(s.items, &copied)
	return nil
}

// ClaimNextPending atomically fetches the oldest pending item and marks it
// processing.
func (s *MockQueueStore) ClaimNextPending(ctx context.Context) (*domain.QueueItem, error) {
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Status == domain.ItemStatusPending {
			item.Status = domain.ItemStatusProcessing
			item.UpdatedAt = time.Now().UTC()
			copied := *item
			return &copied, nil
		}
	}
	return nil, store.ErrItemNotFound
}

// GetItem returns the queue item for the given note.
func (s *MockQueueStore) GetItem(ctx context.Context, noteID uuid.UUID) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return nil, store.ErrItemNotFound
	}
	copied := *item
	return &copied, nil
}

// MarkCompleted transitions the item for the given note to completed.
func (s *MockQueueStore) MarkCompleted(ctx context.Context, noteID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return store.ErrItemNotFound
	}
	item.Status = domain.ItemStatusCompleted
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the item to failed and increments the retry count.
func (s *MockQueueStore) MarkFailed(ctx context.Context, noteID uuid.UUID, errMsg string) (int, error) {
	if s.MarkFailedFn != nil {
		return s.MarkFailedFn(ctx, noteID, errMsg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return 0, store.ErrItemNotFound
	}
	item.Status = domain.ItemStatusFailed
	item.RetryCount++
	item.LastError = &errMsg
	item.UpdatedAt = time.Now().UTC()
	return item.RetryCount, nil
}

// RequeueForRetry flips a failed item back to pending.
func (s *MockQueueStore) RequeueForRetry(ctx context.Context, noteID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return store.ErrItemNotFound
	}
	item.Status = domain.ItemStatusPending
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetStuckItems demotes processing items back to pending.
func (s *MockQueueStore) ResetStuckItems(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0
	for _, item := range s.items {
		if item.Status != domain.ItemStatusProcessing {
			continue
		}
		if olderThan > 0 && item.UpdatedAt.After(cutoff) {
			continue
		}
		item.Status = domain.ItemStatusPending
		item.UpdatedAt = time.Now().UTC()
		count++
	}
	return count, nil
}

// RequeueRetryableFailures demotes failed items with retry budget left.
func (s *MockQueueStore) RequeueRetryableFailures(ctx context.Context, maxRetries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		if item.Status == domain.ItemStatusFailed && item.RetryCount < maxRetries {
			item.Status = domain.ItemStatusPending
			item.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

// DeleteItem removes the queue item for the given note.
func (s *MockQueueStore) DeleteItem(ctx context.Context, noteID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.NoteID == noteID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return store.ErrItemNotFound
}

// CountByStatus returns the number of items in each status.
func (s *MockQueueStore) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.ItemStatus]int)
	for _, item := range s.items {
		counts[item.Status]++
	}
	return counts, nil
}

// IsPaused reports the persisted pause flag.
func (s *MockQueueStore) IsPaused(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

// SetPaused persists the pause flag.
func (s *MockQueueStore) SetPaused(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

// StatusOf is a test helper returning the status of the item for a note.
func (s *MockQueueStore) StatusOf(noteID uuid.UUID) (domain.ItemStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return "", false
	}
	return item.Status, true
}

// RetryCountOf is a test helper returning the retry count for a note's item.
func (s *MockQueueStore) RetryCountOf(noteID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(noteID)
	if item == nil {
		return 0
	}
	return item.RetryCount
}

func (s *MockQueueStore) findLocked(noteID uuid.UUID) *domain.QueueItem {
	for _, item := range s.items {
		if item.NoteID == noteID {
			return item
		}
	}
	return nil
}

// MockNoteStore is an in-memory implementation of store.NoteStore for testing.
type MockNoteStore struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*domain.Note

	SaveTranscriptFn func(ctx context.Context, id uuid.UUID, transcript string, summary *string) error
}

// NewMockNoteStore creates an empty MockNoteStore.
func NewMockNoteStore() *MockNoteStore {
	return &MockNoteStore{notes: make(map[uuid.UUID]*domain.Note)}
}

// CreateNote persists a new note.
func (s *MockNoteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *note
	s.notes[note.ID] = &copied
	return nil
}

// GetNote returns the note with the given ID.
func (s *MockNoteStore) GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, store.ErrNoteNotFound
	}
	copied := *note
	return &copied, nil
}

// UpdateNoteStatus updates a note's lifecycle status. Unknown notes are
// created on the fly so worker tests need no fixture setup.
func (s *MockNoteStore) UpdateNoteStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		note = &domain.Note{ID: id, AudioPath: "unknown"}
		s.notes[id] = note
	}
	note.Status = status
	note.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveTranscript stores the pipeline output for a note and marks it completed.
func (s *MockNoteStore) SaveTranscript(ctx context.Context, id uuid.UUID, transcript string, summary *string) error {
	if s.SaveTranscriptFn != nil {
		return s.SaveTranscriptFn(ctx, id, transcript, summary)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		note = &domain.Note{ID: id, AudioPath: "unknown"}
		s.notes[id] = note
	}
	note.Transcript = &transcript
	note.Summary = summary
	note.Status = domain.NoteStatusCompleted
	note.UpdatedAt = time.Now().UTC()
	return nil
}

// Ensure the mocks implement the store interfaces
var (
	_ store.JobQueueStore = (*MockQueueStore)(nil)
	_ store.NoteStore     = (*MockNoteStore)(nil)
)
