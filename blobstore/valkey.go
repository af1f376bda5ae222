package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Valkey is a durable store backed by Valkey with server-assisted
// client-side caching, shared between every host pointing at the same
// server. Entries expire server-side after the configured TTL,
// restarted on each write.
type Valkey struct {
	client   valkey.Client
	ttl      time.Duration
	strategy EncryptionStrategy
}

// NewValkey creates a Valkey-backed store. The ttl parameter bounds how
// long entries survive without a write. The strategy parameter controls
// encryption of stored blobs; nil defaults to NoEncryptionStrategy.
func NewValkey(client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) *Valkey {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}

	return &Valkey{
		client:   client,
		ttl:      ttl,
		strategy: strategy,
	}
}

// Get retrieves the blob stored under key using server-assisted
// client-side caching. Decryption failures are returned as errors and
// the corrupted entry is invalidated on a best-effort basis; the token
// library decides whether to continue from an empty cache.
func (v *Valkey) Get(ctx context.Context, key string) ([]byte, bool, error) {
	storageKey := v.strategy.StorageKey(key)

	// DoCache enables client-side caching with server tracking: reads
	// are served locally until the server invalidates the entry.
	cmd := v.client.B().Get().Key(storageKey).Cache()
	result := v.client.DoCache(ctx, cmd, v.ttl)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return nil, false, fmt.Errorf("failed to convert cached value to string: %w", err)
	}

	blob, err := v.strategy.DecryptValue(ctx, val, key)
	if err != nil {
		// Best-effort invalidation of the corrupted entry.
		_ = v.client.Do(ctx, v.client.B().Del().Key(storageKey).Build()).Error()

		return nil, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set stores blob under key with a fresh TTL.
func (v *Valkey) Set(ctx context.Context, key string, blob []byte) error {
	value, err := v.strategy.EncryptValue(ctx, blob, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}

	cmd := v.client.B().Set().Key(v.strategy.StorageKey(key)).Value(value).ExSeconds(int64(v.ttl.Seconds())).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

// Remove deletes the entry for key.
func (v *Valkey) Remove(ctx context.Context, key string) error {
	cmd := v.client.B().Del().Key(v.strategy.StorageKey(key)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to remove cached value: %w", err)
	}
	return nil
}

// Close releases the encryption strategy and the client.
func (v *Valkey) Close() error {
	if err := v.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	v.client.Close()
	return nil
}
