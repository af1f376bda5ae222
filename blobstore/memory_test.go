package blobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute, 100)

	blob, found, err := store.Get(ctx, "nonexistent")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, blob)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute, 100)

	expected := []byte{0x01, 0x02}

	err := store.Set(ctx, "test-key", expected)
	require.NoError(t, err)

	blob, found, err := store.Get(ctx, "test-key")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, blob)
}

func TestMemorySet_OverwritesExisting(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute, 100)

	require.NoError(t, store.Set(ctx, "test-key", []byte{0x01}))
	require.NoError(t, store.Set(ctx, "test-key", []byte{0x02, 0x03}))

	blob, found, err := store.Get(ctx, "test-key")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x02, 0x03}, blob)
}

func TestMemoryRemove_DeletesBlob(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute, 100)

	err := store.Set(ctx, "test-key", []byte{0x01, 0x02})
	require.NoError(t, err)

	err = store.Remove(ctx, "test-key")
	require.NoError(t, err)

	_, found, err := store.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryRemove_AbsentKeySucceeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute, 100)

	err := store.Remove(ctx, "never-stored")

	assert.NoError(t, err)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	// Use very short TTL for testing
	store := NewMemory(100*time.Millisecond, 100)

	err := store.Set(ctx, "test-key", []byte{0x01})
	require.NoError(t, err)

	// Verify blob is present immediately
	_, found, err := store.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(150 * time.Millisecond)

	// Verify blob is no longer present
	_, found, err = store.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryTTLRestartsOnWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(200*time.Millisecond, 100)

	err := store.Set(ctx, "test-key", []byte{0x01})
	require.NoError(t, err)

	// Rewrite just before expiry; the entry's lifetime restarts.
	time.Sleep(120 * time.Millisecond)
	err = store.Set(ctx, "test-key", []byte{0x02})
	require.NoError(t, err)

	// Past the original deadline but within the restarted one.
	time.Sleep(120 * time.Millisecond)

	blob, found, err := store.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x02}, blob)
}

func TestMemoryDefaults(t *testing.T) {
	store := NewMemory(0, 0)

	err := store.Set(context.Background(), "test-key", []byte{0x01})
	require.NoError(t, err)

	_, found, err := store.Get(context.Background(), "test-key")
	assert.NoError(t, err)
	assert.True(t, found)
}
