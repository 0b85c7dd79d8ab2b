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

// pausedSettingKey is where the queue pause flag lives in app_settings.
const pausedSettingKey = "queue.paused"

// PostgresJobQueueStore implements store.JobQueueStore on PostgreSQL.
// ClaimNextPending relies on FOR UPDATE SKIP LOCKED so concurrent claimers
// can never receive the same row.
type PostgresJobQueueStore struct {
	db store.DBTX
}

var _ store.JobQueueStore = (*PostgresJobQueueStore)(nil)

// NewPostgresJobQueueStore creates a new PostgresJobQueueStore.
func NewPostgresJobQueueStore(db store.DBTX) *PostgresJobQueueStore {
	return &PostgresJobQueueStore{
		db: db,
	}
}

// Enqueue persists a new pending queue item.
func (s *PostgresJobQueueStore) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	log := logger.FromContext(ctx)

	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO transcription_jobs (id, note_id, audio_path, status, retry_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.NoteID,
		item.AudioPath,
		item.Status,
		item.RetryCount,
		item.LastError,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue item",
			"note_id", item.NoteID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// ClaimNextPending atomically claims the oldest pending item. The subquery
// locks a single pending row, skipping rows locked by concurrent claimers,
// and the UPDATE promotes it to processing in the same statement.
func (s *PostgresJobQueueStore) ClaimNextPending(ctx context.Context) (*domain.QueueItem, error) {
	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE id = (
			SELECT id FROM transcription_jobs
			WHERE status = $3
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, note_id, audio_path, status, retry_count, last_error, created_at, updated_at
	`

	row := s.db.QueryRowContext(ctx, query,
		domain.ItemStatusProcessing,
		time.Now().UTC(),
		domain.ItemStatusPending,
	)

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		return nil, MapError(err)
	}

	return item, nil
}

// GetItem returns the queue item for the given note.
func (s *PostgresJobQueueStore) GetItem(ctx context.Context, noteID uuid.UUID) (*domain.QueueItem, error) {
	query := `
		SELECT id, note_id, audio_path, status, retry_count, last_error, created_at, updated_at
		FROM transcription_jobs
		WHERE note_id = $1
	`

	item, err := scanQueueItem(s.db.QueryRowContext(ctx, query, noteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		return nil, MapError(err)
	}

	return item, nil
}

// MarkCompleted transitions the item for the given note to completed.
func (s *PostgresJobQueueStore) MarkCompleted(ctx context.Context, noteID uuid.UUID) error {
	return s.setStatus(ctx, noteID, domain.ItemStatusCompleted)
}

// MarkFailed transitions the item to failed, records the error text and
// increments the retry count, returning the new count.
func (s *PostgresJobQueueStore) MarkFailed(ctx context.Context, noteID uuid.UUID, errMsg string) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE transcription_jobs
		SET status = $1, last_error = $2, retry_count = retry_count + 1, updated_at = $3
		WHERE note_id = $4
		RETURNING retry_count
	`

	var retryCount int
	err := s.db.QueryRowContext(ctx, query,
		domain.ItemStatusFailed,
		errMsg,
		time.Now().UTC(),
		noteID,
	).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrItemNotFound
		}
		log.Error("failed to mark item failed",
			"note_id", noteID,
			"error", err)
		return 0, MapError(err)
	}

	return retryCount, nil
}

// RequeueForRetry flips a failed item back to pending.
func (s *PostgresJobQueueStore) RequeueForRetry(ctx context.Context, noteID uuid.UUID) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE note_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.ItemStatusPending,
		time.Now().UTC(),
		noteID,
		domain.ItemStatusFailed,
	)
	if err != nil {
		log.Error("failed to requeue item",
			"note_id", noteID,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: item not in failed status", store.ErrUpdateFailed)
	}

	return nil
}

// ResetStuckItems demotes processing items back to pending. A zero olderThan
// demotes every processing row; a positive one only rows updated before the
// cutoff.
func (s *PostgresJobQueueStore) ResetStuckItems(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE status = $3
	`
	args := []interface{}{
		domain.ItemStatusPending,
		time.Now().UTC(),
		domain.ItemStatusProcessing,
	}

	if olderThan > 0 {
		query += ` AND updated_at < $4`
		args = append(args, time.Now().UTC().Add(-olderThan))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to reset stuck items", "error", err)
		return 0, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}

	return int(rowsAffected), nil
}

// RequeueRetryableFailures demotes failed items that still have retry budget
// back to pending.
func (s *PostgresJobQueueStore) RequeueRetryableFailures(ctx context.Context, maxRetries int) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE status = $3 AND retry_count < $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.ItemStatusPending,
		time.Now().UTC(),
		domain.ItemStatusFailed,
		maxRetries,
	)
	if err != nil {
		log.Error("failed to requeue retryable failures", "error", err)
		return 0, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}

	return int(rowsAffected), nil
}

// DeleteItem removes the queue item for the given note.
func (s *PostgresJobQueueStore) DeleteItem(ctx context.Context, noteID uuid.UUID) error {
	query := `DELETE FROM transcription_jobs WHERE note_id = $1`

	result, err := s.db.ExecContext(ctx, query, noteID)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rowsAffected == 0 {
		return store.ErrItemNotFound
	}

	return nil
}

// CountByStatus returns the number of items in each status.
func (s *PostgresJobQueueStore) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM transcription_jobs
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.ItemStatus]int)
	for rows.Next() {
		var status domain.ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, MapError(err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return counts, nil
}

// IsPaused reports the persisted pause flag. A missing row means the queue
// has never been paused.
func (s *PostgresJobQueueStore) IsPaused(ctx context.Context) (bool, error) {
	query := `SELECT value FROM app_settings WHERE key = $1`

	var value string
	err := s.db.QueryRowContext(ctx, query, pausedSettingKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, MapError(err)
	}

	return value == "true", nil
}

// SetPaused persists the pause flag.
func (s *PostgresJobQueueStore) SetPaused(ctx context.Context, paused bool) error {
	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	value := "false"
	if paused {
		value = "true"
	}

	_, err := s.db.ExecContext(ctx, query, pausedSettingKey, value, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}

	return nil
}

func (s *PostgresJobQueueStore) setStatus(ctx context.Context, noteID uuid.UUID, status domain.ItemStatus) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE note_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), noteID)
	if err != nil {
		log.Error("failed to update item status",
			"note_id", noteID,
			"status", status,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if rowsAffected == 0 {
		return store.ErrItemNotFound
	}

	return nil
}

// scanQueueItem reads one queue item row. Works for both QueryRowContext
// results and individual rows from QueryContext.
func scanQueueItem(row interface{ Scan(dest ...interface{}) error }) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := row.Scan(
		&item.ID,
		&item.NoteID,
		&item.AudioPath,
		&item.Status,
		&item.RetryCount,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
