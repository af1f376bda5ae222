package msalcache

import (
	"context"
	"errors"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
)

// TokenCache adapts a Provider to the msal library's
// cache.ExportReplace contract, for use with confidential.WithCache.
//
// The library calls Replace before reading its in-memory cache and
// Export only after mutating it, so Export doubles as the state-change
// signal: the binding persists unconditionally there.
type TokenCache struct {
	provider Provider
}

// NewTokenCache wraps provider for the msal library.
func NewTokenCache(provider Provider) *TokenCache {
	return &TokenCache{provider: provider}
}

// Replace hydrates the library's cache from the store.
func (t *TokenCache) Replace(ctx context.Context, contents cache.Unmarshaler, hints cache.ReplaceHints) error {
	access := &Access{
		Cache:        readOnlyCache{contents},
		PartitionKey: hints.PartitionKey,
	}
	return t.provider.OnBeforeAccess(ctx, access)
}

// Export writes the library's cache back to the store.
func (t *TokenCache) Export(ctx context.Context, contents cache.Marshaler, hints cache.ExportHints) error {
	access := &Access{
		Cache:        writeOnlyCache{contents},
		StateChanged: true,
		PartitionKey: hints.PartitionKey,
	}

	if err := t.provider.OnBeforeWrite(ctx, access); err != nil {
		return err
	}
	return t.provider.OnAfterAccess(ctx, access)
}

// readOnlyCache presents the unmarshal half the library offers during
// Replace as a full Serializer.
type readOnlyCache struct {
	cache.Unmarshaler
}

func (readOnlyCache) Marshal() ([]byte, error) {
	return nil, errors.New("token cache is read-only during hydration")
}

// writeOnlyCache presents the marshal half the library offers during
// Export as a full Serializer.
type writeOnlyCache struct {
	cache.Marshaler
}

func (writeOnlyCache) Unmarshal([]byte) error {
	return errors.New("token cache is write-only during export")
}
