// Package accessor serializes access to a blob store on behalf of the
// token cache binding. The token library's read-modify-write cycle is
// only safe when loads observe fully written entries; the accessor
// guarantees that with a reader/writer lock over the store.
package accessor

import (
	"context"
	"fmt"
	"sync"

	"github.com/webident/msalcache/blobstore"
)

// Accessor wraps a blob store with a reader/writer lock. Loads share
// the read lock; persists and clears take the write lock. The lock is
// per accessor instance and covers the whole store, so simultaneous
// writes for distinct principals serialize. Every store variant gets
// the same discipline.
type Accessor struct {
	mu    sync.RWMutex
	store blobstore.Store
}

// New creates an accessor over store.
func New(store blobstore.Store) *Accessor {
	return &Accessor{store: store}
}

// Load retrieves the blob for key. An empty key succeeds with no blob:
// there is nothing to look up, which is not a failure.
func (a *Accessor) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	blob, found, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load cache entry: %w", err)
	}
	return blob, found, nil
}

// Persist writes blob under key, replacing any existing entry. An
// empty key is a no-op.
func (a *Accessor) Persist(ctx context.Context, key string, blob []byte) error {
	if key == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Set(ctx, key, blob); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

// Clear removes the entry for key. Clearing an absent key succeeds.
// An empty key is a no-op.
func (a *Accessor) Clear(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to clear cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying store.
func (a *Accessor) Close() error {
	return a.store.Close()
}
