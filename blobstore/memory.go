package blobstore

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// DefaultTTL is the expiry applied to application cache entries when no
// other value is configured. Entries are refreshed on every write, so
// an application that acquires tokens at all regularly never observes
// an expiry.
const DefaultTTL = 48 * time.Hour

// DefaultMaxEntries bounds the memory store when no other value is
// configured.
const DefaultMaxEntries = 10_000

// Memory is an in-process store backed by otter, shared by every
// request in the process. Entries carry an absolute expiry of now+ttl,
// restarted on each write; expired entries read as absent.
//
// The underlying cache is safe for unsynchronized concurrent use. The
// accessor's lock on top of it serializes the wider
// load→mutate→persist sequence, not the primitive itself.
type Memory struct {
	cache   *otter.Cache[string, []byte]
	ttl     time.Duration
	counter *stats.Counter
}

// NewMemory creates a memory store with the given entry TTL and size
// bound. Non-positive arguments fall back to DefaultTTL and
// DefaultMaxEntries.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, []byte]{
		MaximumSize:   maxEntries,
		StatsRecorder: counter,
		// expiry restarts on create and on every overwrite
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
	})

	return &Memory{
		cache:   cache,
		ttl:     ttl,
		counter: counter,
	}
}

// Get retrieves the blob stored under key. Expired entries are treated
// as a miss; eviction is left to the cache's own maintenance.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set stores blob under key with a fresh expiry.
func (m *Memory) Set(ctx context.Context, key string, blob []byte) error {
	m.cache.Set(key, blob)
	return nil
}

// Remove deletes the entry for key immediately.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close discards all entries.
func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}
