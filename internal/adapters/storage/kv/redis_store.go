package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with one Redis hash per namespace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. Hash keys are prefix + namespace.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(namespace string) string {
	return s.prefix + namespace
}

// Get retrieves the value stored under namespace/key.
// PRE: namespace and key are non-empty
// POST: Returns the value or ErrNotFound
func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put stores value under namespace/key.
func (s *RedisStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.hashKey(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("kv put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key.
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every key/value pair in namespace.
func (s *RedisStore) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", namespace, err)
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = []byte(v)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
