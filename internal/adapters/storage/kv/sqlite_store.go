package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wcsc/internal/adapters/storage"
)

// SQLiteStore implements Store using the kv table.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves the value stored under namespace/key.
// PRE: namespace and key are non-empty
// POST: Returns the value or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE namespace = ? AND key = ?", namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put stores value under namespace/key, replacing any existing value.
// PRE: namespace and key are non-empty
// POST: Value is persisted (insert or update)
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("kv put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key.
// PRE: namespace and key are non-empty
// POST: Key no longer exists
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE namespace = ? AND key = ?", namespace, key); err != nil {
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every key/value pair in namespace.
// PRE: namespace is non-empty
// POST: Returns an empty map when the namespace has no keys
func (s *SQLiteStore) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE namespace = ?", namespace)
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", namespace, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("kv list %s: %w", namespace, err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
