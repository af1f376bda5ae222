package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a durable store backed by go-redis, for hosts that already
// carry a go-redis client. Entries expire server-side after the
// configured TTL, restarted on each write.
type Redis struct {
	client   *redis.Client
	ttl      time.Duration
	strategy EncryptionStrategy
}

// NewRedis creates a Redis-backed store over an existing client. The
// strategy parameter controls encryption of stored blobs; nil defaults
// to NoEncryptionStrategy.
func NewRedis(client *redis.Client, ttl time.Duration, strategy EncryptionStrategy) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}

	return &Redis{
		client:   client,
		ttl:      ttl,
		strategy: strategy,
	}
}

// Get retrieves the blob stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	storageKey := r.strategy.StorageKey(key)

	val, err := r.client.Get(ctx, storageKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	blob, err := r.strategy.DecryptValue(ctx, val, key)
	if err != nil {
		// Best-effort invalidation of the corrupted entry.
		_ = r.client.Del(ctx, storageKey).Err()

		return nil, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set stores blob under key with a fresh TTL.
func (r *Redis) Set(ctx context.Context, key string, blob []byte) error {
	value, err := r.strategy.EncryptValue(ctx, blob, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}

	if err := r.client.Set(ctx, r.strategy.StorageKey(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

// Remove deletes the entry for key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.strategy.StorageKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove cached value: %w", err)
	}
	return nil
}

// Close releases the encryption strategy and the client.
func (r *Redis) Close() error {
	if err := r.strategy.Close(); err != nil {
		return fmt.Errorf("closing encryption strategy: %w", err)
	}
	return r.client.Close()
}
