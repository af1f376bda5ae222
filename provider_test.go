package msalcache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webident/msalcache/blobstore"
	"github.com/webident/msalcache/cachekey"
)

// spyStore records every store interaction so tests can assert which
// keys were touched and how often.
type spyStore struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	getKeys     []string
	setKeys     []string
	getErr      error
	setErr      error
	removeErr   error
	getCalls    int
	setCalls    int
	removeCalls int
	closeCalls  int
}

func newSpyStore() *spyStore {
	return &spyStore{blobs: map[string][]byte{}}
}

func (s *spyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	s.getKeys = append(s.getKeys, key)
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	blob, ok := s.blobs[key]
	return blob, ok, nil
}

func (s *spyStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setCalls++
	s.setKeys = append(s.setKeys, key)
	if s.setErr != nil {
		return s.setErr
	}
	s.blobs[key] = bytes.Clone(value)
	return nil
}

func (s *spyStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeCalls++
	if s.removeErr != nil {
		return s.removeErr
	}
	delete(s.blobs, key)
	return nil
}

func (s *spyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCalls++
	return nil
}

// spySerializer stands in for the token library's cache, recording
// hydration and snapshot calls.
type spySerializer struct {
	blob           []byte
	marshalErr     error
	unmarshalErr   error
	hydrated       []byte
	marshalCalls   int
	unmarshalCalls int
}

func (s *spySerializer) Marshal() ([]byte, error) {
	s.marshalCalls++
	if s.marshalErr != nil {
		return nil, s.marshalErr
	}
	return s.blob, nil
}

func (s *spySerializer) Unmarshal(blob []byte) error {
	s.unmarshalCalls++
	if s.unmarshalErr != nil {
		return s.unmarshalErr
	}
	s.hydrated = bytes.Clone(blob)
	return nil
}

func userClaims(oid, tid string) jwt.MapClaims {
	return jwt.MapClaims{
		cachekey.ClaimObjectID: oid,
		cachekey.ClaimTenantID: tid,
	}
}

func fixedPrincipal(acct cachekey.Account) PrincipalFunc {
	return func(context.Context) (cachekey.Account, bool) {
		return acct, true
	}
}

func absentPrincipal() PrincipalFunc {
	return func(context.Context) (cachekey.Account, bool) {
		return cachekey.Account{}, false
	}
}

func TestOnBeforeAccessHydratesFromStore(t *testing.T) {
	store := newSpyStore()
	store.blobs["oid-1.tid-1"] = []byte("serialized token cache")

	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{}
	access := &Access{Cache: serializer, Claims: userClaims("oid-1", "tid-1")}

	err := provider.OnBeforeAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Equal(t, []byte("serialized token cache"), serializer.hydrated)
	assert.Equal(t, []string{"oid-1.tid-1"}, store.getKeys)
}

func TestOnBeforeAccessMissingEntryLeavesCacheEmpty(t *testing.T) {
	provider := NewUserProvider(newSpyStore(), nil)

	serializer := &spySerializer{}
	access := &Access{Cache: serializer, Claims: userClaims("oid-1", "tid-1")}

	err := provider.OnBeforeAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Zero(t, serializer.unmarshalCalls)
}

func TestOnBeforeAccessEmptyBlobSkipsHydration(t *testing.T) {
	store := newSpyStore()
	store.blobs["oid-1.tid-1"] = []byte{}

	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{}
	access := &Access{Cache: serializer, Claims: userClaims("oid-1", "tid-1")}

	err := provider.OnBeforeAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Zero(t, serializer.unmarshalCalls)
}

func TestOnBeforeAccessWithoutPrincipalSkipsStore(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{}
	err := provider.OnBeforeAccess(t.Context(), &Access{Cache: serializer})

	require.NoError(t, err)
	assert.Zero(t, store.getCalls)
	assert.Zero(t, serializer.unmarshalCalls)
}

func TestOnBeforeAccessLoadErrorPropagates(t *testing.T) {
	store := newSpyStore()
	store.getErr = errors.New("backend down")

	provider := NewUserProvider(store, nil)
	access := &Access{Cache: &spySerializer{}, Claims: userClaims("oid-1", "tid-1")}

	err := provider.OnBeforeAccess(t.Context(), access)

	require.ErrorContains(t, err, "failed to load token cache")
	require.ErrorContains(t, err, "backend down")
}

func TestOnBeforeAccessUnmarshalErrorPropagates(t *testing.T) {
	store := newSpyStore()
	store.blobs["oid-1.tid-1"] = []byte("not a cache blob")

	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{unmarshalErr: errors.New("invalid JSON")}
	access := &Access{Cache: serializer, Claims: userClaims("oid-1", "tid-1")}

	err := provider.OnBeforeAccess(t.Context(), access)

	require.ErrorContains(t, err, "failed to hydrate token cache")
}

func TestOnAfterAccessPersistsChangedCache(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{blob: []byte("updated cache")}
	access := &Access{
		Cache:        serializer,
		StateChanged: true,
		Claims:       userClaims("oid-1", "tid-1"),
	}

	err := provider.OnAfterAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Equal(t, 1, serializer.marshalCalls)
	assert.Equal(t, []byte("updated cache"), store.blobs["oid-1.tid-1"])
}

func TestOnAfterAccessUnchangedCacheIsNotSerialized(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{blob: []byte("should never be written")}
	access := &Access{
		Cache:  serializer,
		Claims: userClaims("oid-1", "tid-1"),
	}

	err := provider.OnAfterAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Zero(t, serializer.marshalCalls, "unchanged cache must not be serialized")
	assert.Zero(t, store.setCalls, "unchanged cache must not be persisted")
}

func TestOnAfterAccessWithoutPrincipalSkipsStore(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{blob: []byte("orphaned cache")}
	access := &Access{Cache: serializer, StateChanged: true}

	err := provider.OnAfterAccess(t.Context(), access)

	require.NoError(t, err)
	assert.Zero(t, serializer.marshalCalls)
	assert.Zero(t, store.setCalls)
}

func TestOnAfterAccessMarshalErrorPropagates(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	serializer := &spySerializer{marshalErr: errors.New("cache corrupted")}
	access := &Access{
		Cache:        serializer,
		StateChanged: true,
		Claims:       userClaims("oid-1", "tid-1"),
	}

	err := provider.OnAfterAccess(t.Context(), access)

	require.ErrorContains(t, err, "failed to serialize token cache")
	assert.Zero(t, store.setCalls)
}

func TestOnAfterAccessPersistErrorPropagates(t *testing.T) {
	store := newSpyStore()
	store.setErr = errors.New("backend down")

	provider := NewUserProvider(store, nil)
	access := &Access{
		Cache:        &spySerializer{blob: []byte("cache")},
		StateChanged: true,
		Claims:       userClaims("oid-1", "tid-1"),
	}

	err := provider.OnAfterAccess(t.Context(), access)

	require.ErrorContains(t, err, "failed to persist token cache")
}

func TestOnBeforeWriteIsNoOp(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	access := &Access{
		Cache:        &spySerializer{},
		StateChanged: true,
		Claims:       userClaims("oid-1", "tid-1"),
	}

	err := provider.OnBeforeWrite(t.Context(), access)

	require.NoError(t, err)
	assert.Zero(t, store.getCalls)
	assert.Zero(t, store.setCalls)
}

func TestUserProviderKeyDerivation(t *testing.T) {
	tests := []struct {
		name      string
		access    *Access
		principal PrincipalFunc
		wantKey   string
	}{
		{
			name:    "claims preferred over everything",
			access:  &Access{Claims: userClaims("oid-1", "tid-1"), PartitionKey: "partition-9"},
			principal: fixedPrincipal(cachekey.Account{
				ObjectID: "oid-other", TenantID: "tid-other",
			}),
			wantKey: "oid-1.tid-1",
		},
		{
			name:   "principal when claims absent",
			access: &Access{},
			principal: fixedPrincipal(cachekey.Account{
				ObjectID: "oid-2", TenantID: "tid-2",
			}),
			wantKey: "oid-2.tid-2",
		},
		{
			name:   "incomplete claims fall through to principal",
			access: &Access{Claims: jwt.MapClaims{cachekey.ClaimObjectID: "oid-1"}},
			principal: fixedPrincipal(cachekey.Account{
				ObjectID: "oid-3", TenantID: "tid-3",
			}),
			wantKey: "oid-3.tid-3",
		},
		{
			name:      "partition key as last resort",
			access:    &Access{PartitionKey: "partition-1"},
			principal: absentPrincipal(),
			wantKey:   "partition-1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newSpyStore()
			provider := NewUserProvider(store, tc.principal)

			tc.access.Cache = &spySerializer{}
			err := provider.OnBeforeAccess(t.Context(), tc.access)

			require.NoError(t, err)
			assert.Equal(t, []string{tc.wantKey}, store.getKeys)
		})
	}
}

func TestClearRemovesPrincipalEntry(t *testing.T) {
	store := blobstore.NewMemory(time.Minute, 100)
	principal := fixedPrincipal(cachekey.Account{ObjectID: "oid-1", TenantID: "tid-1"})
	provider := NewUserProvider(store, principal)

	access := &Access{
		Cache:        &spySerializer{blob: []byte("cache")},
		StateChanged: true,
	}
	require.NoError(t, provider.OnAfterAccess(t.Context(), access))

	require.NoError(t, provider.Clear(t.Context()))

	_, found, err := store.Get(t.Context(), "oid-1.tid-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearWithoutPrincipalSkipsStore(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, absentPrincipal())

	err := provider.Clear(t.Context())

	require.NoError(t, err)
	assert.Zero(t, store.removeCalls)
}

func TestClearErrorPropagates(t *testing.T) {
	store := newSpyStore()
	store.removeErr = errors.New("backend down")

	principal := fixedPrincipal(cachekey.Account{ObjectID: "oid-1", TenantID: "tid-1"})
	provider := NewUserProvider(store, principal)

	err := provider.Clear(t.Context())

	require.ErrorContains(t, err, "failed to clear token cache")
}

func TestUsersAreIsolated(t *testing.T) {
	store := blobstore.NewMemory(time.Minute, 100)
	provider := NewUserProvider(store, nil)

	persist := func(oid, tid string, blob []byte) {
		t.Helper()
		access := &Access{
			Cache:        &spySerializer{blob: blob},
			StateChanged: true,
			Claims:       userClaims(oid, tid),
		}
		require.NoError(t, provider.OnAfterAccess(t.Context(), access))
	}
	hydrate := func(oid, tid string) *spySerializer {
		t.Helper()
		serializer := &spySerializer{}
		access := &Access{Cache: serializer, Claims: userClaims(oid, tid)}
		require.NoError(t, provider.OnBeforeAccess(t.Context(), access))
		return serializer
	}

	persist("abc", "def", []byte{0x01, 0x02})
	persist("xyz", "123", []byte{0x03})

	assert.Equal(t, []byte{0x01, 0x02}, hydrate("abc", "def").hydrated)
	assert.Equal(t, []byte{0x03}, hydrate("xyz", "123").hydrated)

	// Signing one user out leaves the other untouched.
	aliceOnly := NewUserProvider(store, fixedPrincipal(cachekey.Account{
		ObjectID: "abc", TenantID: "def",
	}))
	require.NoError(t, aliceOnly.Clear(t.Context()))

	assert.Zero(t, hydrate("abc", "def").unmarshalCalls)
	assert.Equal(t, []byte{0x03}, hydrate("xyz", "123").hydrated)
}

func TestAppProviderSharesEntryAcrossInstances(t *testing.T) {
	store := blobstore.NewMemory(time.Minute, 100)

	writer := NewAppProvider(store, "client-1")
	access := &Access{
		Cache:        &spySerializer{blob: []byte("app tokens")},
		StateChanged: true,
	}
	require.NoError(t, writer.OnAfterAccess(t.Context(), access))

	reader := NewAppProvider(store, "client-1")
	serializer := &spySerializer{}
	require.NoError(t, reader.OnBeforeAccess(t.Context(), &Access{Cache: serializer}))

	assert.Equal(t, []byte("app tokens"), serializer.hydrated)

	// The entry lives under the app-scoped key, not a user key.
	_, found, err := store.Get(t.Context(), cachekey.ForApp("client-1"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAppProviderIgnoresUserClaims(t *testing.T) {
	store := newSpyStore()
	provider := NewAppProvider(store, "client-1")

	access := &Access{Cache: &spySerializer{}, Claims: userClaims("oid-1", "tid-1")}
	require.NoError(t, provider.OnBeforeAccess(t.Context(), access))

	assert.Equal(t, []string{"client-1_AppTokenCache"}, store.getKeys)
}

func TestAppProviderEmptyClientIDSkipsStore(t *testing.T) {
	store := newSpyStore()
	provider := NewAppProvider(store, "")

	serializer := &spySerializer{blob: []byte("cache")}
	require.NoError(t, provider.OnBeforeAccess(t.Context(), &Access{Cache: serializer}))
	require.NoError(t, provider.OnAfterAccess(t.Context(), &Access{
		Cache:        serializer,
		StateChanged: true,
	}))
	require.NoError(t, provider.Clear(t.Context()))

	assert.Zero(t, store.getCalls)
	assert.Zero(t, store.setCalls)
	assert.Zero(t, store.removeCalls)
}

func TestCloseReleasesStore(t *testing.T) {
	store := newSpyStore()
	provider := NewUserProvider(store, nil)

	require.NoError(t, provider.Close())
	assert.Equal(t, 1, store.closeCalls)
}
