package blobstore

import (
	"context"

	"github.com/alexedwards/scs/v2"
)

// Session stores one blob per user-bound key inside the current
// request's session data. The session manager scopes entries to the
// signed-in user's browser session; distinct users never share
// entries even though they share the manager.
//
// Every method must be called with a context that has passed through
// the manager's LoadAndSave middleware (or an explicit Load). The
// session manager panics otherwise, which is a programming error at
// the call site, not a runtime condition to handle.
//
// The session data attached to a request context is written back by
// the manager when the request completes. The accessor's lock
// serializes blob access between concurrent requests for the same
// user; the final write-back ordering between those requests is the
// session manager's own last-write-wins behavior.
type Session struct {
	manager *scs.SessionManager
}

// NewSession creates a session store over the given manager. The
// manager is owned by the host application; closing the store does not
// close it.
func NewSession(manager *scs.SessionManager) *Session {
	return &Session{manager: manager}
}

// Get retrieves the blob stored under key in the current session.
func (s *Session) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.manager.Exists(ctx, key) {
		return nil, false, nil
	}

	return s.manager.GetBytes(ctx, key), true, nil
}

// Set stores blob under key in the current session, replacing any
// prior value.
func (s *Session) Set(ctx context.Context, key string, blob []byte) error {
	s.manager.Put(ctx, key, blob)
	return nil
}

// Remove deletes the session entry for key.
func (s *Session) Remove(ctx context.Context, key string) error {
	s.manager.Remove(ctx, key)
	return nil
}

// Close is a no-op: the session manager belongs to the host
// application.
func (s *Session) Close() error {
	return nil
}
