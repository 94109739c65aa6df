package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in a namespace.
var ErrNotFound = errors.New("kv: key not found")

// Store persists opaque values grouped by namespace.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}
