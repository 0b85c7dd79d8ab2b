package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/platform/logger"
	"github.com/echonote/echonote-api/internal/store"
)

// PostgresNoteStore implements store.NoteStore using PostgreSQL.
type PostgresNoteStore struct {
	db store.DBTX
}

var _ store.NoteStore = (*PostgresNoteStore)(nil)

// NewPostgresNoteStore creates a new PostgresNoteStore.
func NewPostgresNoteStore(db store.DBTX) *PostgresNoteStore {
	return &PostgresNoteStore{
		db: db,
	}
}

// CreateNote persists a new note.
func (s *PostgresNoteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	log := logger.FromContext(ctx)

	if err := note.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO notes (id, audio_path, transcript, summary, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		note.ID,
		note.AudioPath,
		note.Transcript,
		note.Summary,
		note.Status,
		note.CreatedAt,
		note.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create note",
			"note_id", note.ID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetNote returns the note with the given ID.
func (s *PostgresNoteStore) GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	query := `
		SELECT id, audio_path, transcript, summary, status, created_at, updated_at
		FROM notes
		WHERE id = $1
	`

	var note domain.Note
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&note.ID,
		&note.AudioPath,
		&note.Transcript,
		&note.Summary,
		&note.Status,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoteNotFound
		}
		return nil, MapError(err)
	}

	return &note, nil
}

// UpdateNoteStatus updates a note's lifecycle status.
func (s *PostgresNoteStore) UpdateNoteStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE notes
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update note status",
			"note_id", id,
			"status", status,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rowsAffected == 0 {
		return store.ErrNoteNotFound
	}

	return nil
}

// SaveTranscript stores the pipeline output for a note and marks it
// completed in a single statement so readers never observe a completed note
// without its transcript.
func (s *PostgresNoteStore) SaveTranscript(ctx context.Context, id uuid.UUID, transcript string, summary *string) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE notes
		SET transcript = $1, summary = $2, status = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		transcript,
		summary,
		domain.NoteStatusCompleted,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to save transcript",
			"note_id", id,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rowsAffected == 0 {
		return store.ErrNoteNotFound
	}

	return nil
}
