// Package audit records an audit trail for identity and token activity.
// Each audited request produces exactly one structured log entry describing
// the request, the principal it authenticated, and any token acquisition
// that happened while serving it.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

type entryKey struct{}

// Entry accumulates the auditable details of a single request. Fields are
// populated progressively: the middleware fills the request fields, and
// handlers record the identity outcome as it becomes known.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	// Authorized is true when the request was served for a proven
	// principal, whether from an existing session or a fresh sign-in.
	Authorized bool
	Principal  string
	Username   string

	// GrantType names the OAuth flow used when the request acquired a
	// token: authorization_code, silent or client_credentials.
	GrantType  string
	Scopes     []string
	ExpirySecs int64

	Error string
}

// Context returns a context carrying an audit entry, creating one if the
// context does not already have one. The same entry is returned for every
// call with a descendant context.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(entryKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, entryKey{}, entry), entry
}

// Log returns the audit entry for the current request. When the audit
// middleware is not active a detached entry is returned: callers can record
// against it safely, but it will never be written.
func Log(ctx context.Context) *Entry {
	if entry, ok := ctx.Value(entryKey{}).(*Entry); ok {
		return entry
	}

	return &Entry{}
}

// Middleware creates the middleware that establishes the audit entry for
// each request and writes it when the request completes. The entry is
// written even when the handler panics; the panic is re-raised so normal
// server recovery still applies.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			r = r.WithContext(ctx)

			entry.Begin(r)
			defer entry.End(ctx)()

			w = httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(headerFunc httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						entry.Status = code
						headerFunc(code)
					}
				},
			})

			next.ServeHTTP(w, r)
		})
	}
}

// Begin captures the request details that are known before the handler
// runs.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	} else {
		e.SourceIP = r.RemoteAddr
	}
}

// End returns the function that finalizes and writes the entry. It is
// intended to be deferred for the duration of the request. A panic during
// the request is recorded on the entry and re-raised after the entry is
// written.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if p := recover(); p != nil {
			failure := fmt.Sprintf("panic: %v", p)
			if e.Error != "" {
				failure = e.Error + "; " + failure
			}
			e.Error = failure

			e.write(ctx)
			panic(p)
		}

		e.write(ctx)
	}
}

func (e *Entry) write(ctx context.Context) {
	// A handler that completes without explicitly writing a header has
	// responded 200.
	if e.Status == 0 {
		e.Status = http.StatusOK
	}

	log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
}

// MarshalZerologObject writes the entry as nested dictionaries. The request
// and authorization dictionaries are always present; the token dictionary
// and the error field are elided when the request acquired no token and
// failed in no way.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	ev.Dict("request", request)

	authorization := NewOptionalEvent(zerolog.Dict()).
		Str("principal", e.Principal).
		Str("username", e.Username).
		Bool("authorized", e.Authorized)
	authorization.Set(ev, "authorization")

	token := NewOptionalEvent(zerolog.Dict()).
		Str("grantType", e.GrantType).
		Strs("scopes", e.Scopes)
	if e.ExpirySecs != 0 {
		expiry := time.Unix(e.ExpirySecs, 0)
		token.Event().
			Time("expiry", expiry).
			Str("expiryRemaining", time.Until(expiry).Truncate(time.Second).String())
	}
	token.Set(ev, "token")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}
