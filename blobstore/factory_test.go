package blobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfig_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Type:       "memory",
		TTL:        1 * time.Minute,
		MaxEntries: 100,
	}

	store, err := NewFromConfig(ctx, cfg)

	require.NoError(t, err)
	assert.NotNil(t, store)

	// Verify a memory store round-trips through the instrumented wrapper.
	err = store.Set(ctx, "key", []byte{0x01})
	require.NoError(t, err)

	blob, found, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x01}, blob)

	err = store.Close()
	assert.NoError(t, err)
}

func TestNewFromConfig_InvalidType(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Type: "postgres"}

	store, err := NewFromConfig(ctx, cfg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store type")
	assert.Contains(t, err.Error(), "postgres")
	assert.Nil(t, store)
}

func TestNewFromConfig_ValkeyRequiresAddress(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Type: "valkey",
		Valkey: ValkeyConfig{
			Address: "", // Missing address
			TLS:     true,
		},
	}

	store, err := NewFromConfig(ctx, cfg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "VALKEY_ADDRESS required")
	assert.Nil(t, store)
}

func TestNewFromConfig_RedisRequiresAddress(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Type: "redis"}

	store, err := NewFromConfig(ctx, cfg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDRESS required")
	assert.Nil(t, store)
}
