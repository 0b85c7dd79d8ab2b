package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/echonote/echonote-api/internal/store"
)

// PostgresSettingsStore implements store.KeyValueStore on the app_settings
// table. It backs both the queue pause flag and transfer resume metadata.
type PostgresSettingsStore struct {
	db store.DBTX
}

var _ store.KeyValueStore = (*PostgresSettingsStore)(nil)

// NewPostgresSettingsStore creates a new PostgresSettingsStore.
func NewPostgresSettingsStore(db store.DBTX) *PostgresSettingsStore {
	return &PostgresSettingsStore{
		db: db,
	}
}

// Get returns the value for key. Returns store.ErrKeyNotFound if absent.
func (s *PostgresSettingsStore) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM app_settings WHERE key = $1`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrKeyNotFound
		}
		return "", MapError(err)
	}

	return value, nil
}

// Set writes the value for key, creating or replacing it.
func (s *PostgresSettingsStore) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}

	return nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (s *PostgresSettingsStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM app_settings WHERE key = $1`

	_, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return MapError(err)
	}

	return nil
}

// ListPrefix returns every key/value pair whose key starts with prefix.
func (s *PostgresSettingsStore) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	query := `SELECT key, value FROM app_settings WHERE key LIKE $1 || '%'`

	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, MapError(err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return out, nil
}
