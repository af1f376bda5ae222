// Package cachekey derives the keys that scope persisted token-cache
// blobs to a single principal: one key per signed-in user, or one key
// per application.
//
// Derivation is a pure function of its input. Callers that cannot
// produce a key (nobody signed in yet, claims not populated) receive an
// absent result and are expected to skip cache persistence for that
// access rather than fail it.
package cachekey

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ClaimObjectID is the claim holding the principal's immutable
	// object identifier within its tenant.
	ClaimObjectID = "oid"

	// ClaimTenantID is the claim holding the identifier of the tenant
	// the principal belongs to.
	ClaimTenantID = "tid"

	// appKeySuffix distinguishes application-scoped cache entries from
	// user-scoped ones sharing a store.
	appKeySuffix = "_AppTokenCache"
)

// Account is the stable identity of a signed-in user: the object
// identifier and tenant identifier pair. The zero value represents an
// absent principal.
type Account struct {
	ObjectID string
	TenantID string
}

// Key returns the cache key for the account, the dot-joined composite
// of object and tenant identifiers. The same account always yields the
// same key.
func (a Account) Key() string {
	return a.ObjectID + "." + a.TenantID
}

// IsZero reports whether the account carries no identity.
func (a Account) IsZero() bool {
	return a.ObjectID == "" && a.TenantID == ""
}

// FromClaims derives the account from a set of validated token claims.
// It reports false when claims is nil or either identifier claim is
// missing, empty, or not a string, which happens when token
// acquisition runs before the host has populated the principal. Callers
// must treat a false result as "no cache identity yet", not as an
// error.
func FromClaims(claims jwt.MapClaims) (Account, bool) {
	if claims == nil {
		return Account{}, false
	}

	oid, ok := stringClaim(claims, ClaimObjectID)
	if !ok {
		return Account{}, false
	}

	tid, ok := stringClaim(claims, ClaimTenantID)
	if !ok {
		return Account{}, false
	}

	return Account{ObjectID: oid, TenantID: tid}, true
}

// FromHomeAccountID parses the token library's home account identifier,
// the "<object-id>.<tenant-id>" composite it reports for each account.
// It reports false for input that does not carry both parts.
func FromHomeAccountID(id string) (Account, bool) {
	oid, tid, found := strings.Cut(id, ".")
	if !found || oid == "" || tid == "" {
		return Account{}, false
	}

	return Account{ObjectID: oid, TenantID: tid}, true
}

// ForApp returns the cache key scoping an application-bound cache to
// the given client ID. An empty client ID yields the empty (absent)
// key, making cache operations for an unconfigured client no-ops.
func ForApp(clientID string) string {
	if clientID == "" {
		return ""
	}
	return clientID + appKeySuffix
}

func stringClaim(claims jwt.MapClaims, name string) (string, bool) {
	v, ok := claims[name]
	if !ok {
		return "", false
	}

	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}

	return s, true
}
