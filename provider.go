// Package msalcache persists MSAL token caches outside process memory.
//
// The token library serializes its cache as an opaque blob around every
// access; this package owns where that blob lives. Each signed-in
// principal gets its own blob under a key derived from its claims, so
// one user's tokens are never hydrated into another user's client. The
// blob itself is never inspected: serialization stays the library's
// business.
//
// A CacheProvider exposes the three notification hooks of the access
// cycle: OnBeforeAccess hydrates the library cache from the store,
// OnBeforeWrite runs ahead of persistence, and OnAfterAccess writes the
// cache back when (and only when) its state changed. The TokenCache
// binding in this package adapts those hooks to the msal library's
// ExportReplace contract; hosts with other token stacks can drive the
// hooks directly.
//
// Backing stores live in the blobstore package: per-browser-session,
// in-memory with TTL, or durable in Valkey/Redis with optional at-rest
// encryption.
package msalcache

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webident/msalcache/accessor"
	"github.com/webident/msalcache/blobstore"
	"github.com/webident/msalcache/cachekey"
)

// Marshaler serializes a token cache to an opaque blob.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Unmarshaler hydrates a token cache from an opaque blob.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// Serializer is the full serialization surface of a token cache.
type Serializer interface {
	Marshaler
	Unmarshaler
}

// Access describes one access to the token cache, as seen by the
// notification hooks.
type Access struct {
	// Cache is the live token cache being accessed. Hooks hydrate it
	// via Unmarshal and snapshot it via Marshal; its contents are
	// opaque here.
	Cache Serializer

	// StateChanged reports whether the access mutated the cache.
	// OnAfterAccess persists only when it is set.
	StateChanged bool

	// Claims carries the validated claims of the signed-in principal,
	// when the host has them at hand. Preferred source for the cache
	// key.
	Claims jwt.MapClaims

	// PartitionKey is the cache partition suggested by the token
	// library for this access. Last-resort source for the cache key.
	PartitionKey string
}

// KeyFunc derives the cache key for an access. The access is nil when
// the operation has no library-driven context (Clear). Returning false
// means no principal could be determined; the operation proceeds
// against an empty cache.
type KeyFunc func(ctx context.Context, access *Access) (string, bool)

// PrincipalFunc reports the signed-in principal for the current
// request context, typically from middleware-validated claims or the
// session.
type PrincipalFunc func(ctx context.Context) (cachekey.Account, bool)

// Provider receives the notification hooks of the cache access cycle.
type Provider interface {
	// OnBeforeAccess hydrates the access's cache from the store before
	// the token library reads it.
	OnBeforeAccess(ctx context.Context, access *Access) error

	// OnAfterAccess persists the access's cache after the library is
	// done with it, if its state changed.
	OnAfterAccess(ctx context.Context, access *Access) error

	// OnBeforeWrite runs ahead of any persistence.
	OnBeforeWrite(ctx context.Context, access *Access) error
}

// CacheProvider implements Provider over a synchronized blob store.
// Construct it with New, NewUserProvider or NewAppProvider.
type CacheProvider struct {
	accessor *accessor.Accessor
	keyFor   KeyFunc
}

// New creates a provider with a caller-supplied key derivation. keyFor
// must be non-nil and must tolerate a nil access.
func New(store blobstore.Store, keyFor KeyFunc) *CacheProvider {
	return &CacheProvider{
		accessor: accessor.New(store),
		keyFor:   keyFor,
	}
}

// NewUserProvider creates a provider keyed per signed-in user. The key
// is derived from the access claims when present, then from principal,
// then from the library's partition hint. principal may be nil when
// the host always supplies claims.
func NewUserProvider(store blobstore.Store, principal PrincipalFunc) *CacheProvider {
	keyFor := func(ctx context.Context, access *Access) (string, bool) {
		if access != nil && access.Claims != nil {
			if acct, ok := cachekey.FromClaims(access.Claims); ok {
				return acct.Key(), true
			}
		}
		if principal != nil {
			if acct, ok := principal(ctx); ok {
				return acct.Key(), true
			}
		}
		if access != nil && access.PartitionKey != "" {
			return access.PartitionKey, true
		}
		return "", false
	}

	return New(store, keyFor)
}

// NewAppProvider creates a provider for app-only (client credential)
// tokens, keyed by the confidential client's ID. All instances of the
// app share one entry.
func NewAppProvider(store blobstore.Store, clientID string) *CacheProvider {
	key := cachekey.ForApp(clientID)
	keyFor := func(context.Context, *Access) (string, bool) {
		return key, key != ""
	}

	return New(store, keyFor)
}

// OnBeforeAccess loads the principal's blob and hydrates the access's
// cache from it. A missing entry, or no derivable principal, leaves
// the cache empty: first access is not a failure.
func (p *CacheProvider) OnBeforeAccess(ctx context.Context, access *Access) error {
	key, ok := p.keyFor(ctx, access)
	if !ok {
		return nil
	}

	blob, found, err := p.accessor.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load token cache: %w", err)
	}
	if !found || len(blob) == 0 {
		return nil
	}

	if err := access.Cache.Unmarshal(blob); err != nil {
		return fmt.Errorf("failed to hydrate token cache: %w", err)
	}
	return nil
}

// OnAfterAccess persists the cache when the access changed it. An
// unchanged cache is not serialized at all.
func (p *CacheProvider) OnAfterAccess(ctx context.Context, access *Access) error {
	if !access.StateChanged {
		return nil
	}

	key, ok := p.keyFor(ctx, access)
	if !ok {
		return nil
	}

	blob, err := access.Cache.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize token cache: %w", err)
	}

	if err := p.accessor.Persist(ctx, key, blob); err != nil {
		return fmt.Errorf("failed to persist token cache: %w", err)
	}
	return nil
}

// OnBeforeWrite runs ahead of any persistence. The provider has no
// work to do here; the hook exists so hosts wrapping a CacheProvider
// have a veto and audit point on the write path.
func (p *CacheProvider) OnBeforeWrite(ctx context.Context, access *Access) error {
	return nil
}

// Clear removes the cache entry for the current principal, signing the
// principal out of every client sharing the store. Clearing when no
// principal can be derived, or no entry exists, succeeds.
func (p *CacheProvider) Clear(ctx context.Context) error {
	key, ok := p.keyFor(ctx, nil)
	if !ok {
		return nil
	}

	if err := p.accessor.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear token cache: %w", err)
	}
	return nil
}

// Close releases the backing store.
func (p *CacheProvider) Close() error {
	return p.accessor.Close()
}
