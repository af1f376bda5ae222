// Package blobstore provides the backing stores that hold serialized
// token-cache blobs: per-session storage for user-bound caches,
// process-wide memory with expiry for application-bound caches, and
// Valkey or Redis for durable storage shared between hosts.
//
// Blobs are opaque. They are produced and consumed by the token
// library's serializer; a Store transports bytes and never inspects
// them.
package blobstore

import (
	"context"
)

// Store holds one blob per cache key.
type Store interface {
	// Get retrieves the blob stored under key. It returns the blob,
	// whether a live (non-expired) entry was found, and any error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores blob under key, replacing any prior value. Stores
	// with expiry restart the clock on every write.
	Set(ctx context.Context, key string, blob []byte) error

	// Remove deletes the entry for key. Removing an absent key is not
	// an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
