package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the local dev/test fallback for the distributed tier when
// no Redis-compatible endpoint is configured: a single-file KV table plus an
// append-only entries table standing in for Redis streams. It satisfies the
// same Store contract so the device repository and gateway routing run
// unmodified against it.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes stream ID allocation
}

// NewSQLiteStore opens (creating if absent) a sqlite file at path and
// ensures the kv/stream tables exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS stream_entries (
			stream TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			PRIMARY KEY (stream, id)
		);
	`); err != nil {
		return nil, fmt.Errorf("create sqlite store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get: %w", err)
	}
	if expiresAt.Valid && expiresAt.Int64 < time.Now().Unix() {
		_ = s.Del(ctx, key)
		return "", ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PipelineSet(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite pipeline begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, NULL)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = NULL
	`)
	if err != nil {
		return fmt.Errorf("sqlite pipeline prepare: %w", err)
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err = stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("sqlite pipeline exec %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	s.mu.Lock()
	id := fmt.Sprintf("%d-0", time.Now().UnixNano())
	s.mu.Unlock()

	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO stream_entries (stream, id, fields) VALUES (?, ?, ?)`, stream, id, encoded)
	if err != nil {
		return fmt.Errorf("sqlite xadd: %w", err)
	}
	return nil
}

// XRead polls the stream_entries table for rows newer than lastID, sleeping
// in small increments up to block. This is a single-process substitute for
// Redis's blocking XREAD; adequate for the dev/test fallback tier. Unlike
// Redis, a lastID of "$" reads from the start of the stream.
func (s *SQLiteStore) XRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]StreamEntry, error) {
	deadline := time.Now().Add(block)
	for {
		entries, err := s.pollOnce(ctx, stream, lastID, count)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 || block <= 0 || time.Now().After(deadline) {
			return entries, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *SQLiteStore) pollOnce(ctx context.Context, stream, lastID string, count int) ([]StreamEntry, error) {
	cursor := lastID
	if cursor == "$" {
		cursor = "" // "$" means "only entries after now"; treat as "none buffered yet"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields FROM stream_entries WHERE stream = ? AND id > ? ORDER BY id ASC LIMIT ?
	`, stream, cursor, count)
	if err != nil {
		return nil, fmt.Errorf("sqlite xread: %w", err)
	}
	defer rows.Close()

	var out []StreamEntry
	for rows.Next() {
		var id, encoded string
		if err = rows.Scan(&id, &encoded); err != nil {
			return nil, fmt.Errorf("sqlite xread scan: %w", err)
		}
		fields, decodeErr := decodeFields(encoded)
		if decodeErr != nil {
			continue
		}
		out = append(out, StreamEntry{ID: id, Fields: fields})
	}
	return out, rows.Err()
}
