package blob

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	data         BYTEA NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore is a Postgres-backed Store. Objects live in a single blobs
// table keyed by object key, with upsert semantics on Put.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at dsn and ensures the blobs
// table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blobs table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Put stores data at key, replacing any existing row.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, content_type, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data,
		    content_type = EXCLUDED.content_type,
		    updated_at = now()`,
		key, data, contentType)
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

// Get returns the object data at key, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// List returns info for all objects whose key starts with prefix.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, length(data), updated_at
		FROM blobs
		WHERE key LIKE $1
		ORDER BY key`,
		escapeLikePattern(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}
	defer rows.Close()

	var infos []ObjectInfo
	for rows.Next() {
		var info ObjectInfo
		if err := rows.Scan(&info.Key, &info.Size, &info.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan object row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}
	return infos, nil
}

// Delete removes the object at key, or returns ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// escapeLikePattern escapes LIKE metacharacters so prefixes match literally.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
