package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/webident/msalcache"
	"github.com/webident/msalcache/internal/audit"
	"github.com/webident/msalcache/internal/config"
)

// Session keys for the signed-in principal. The token cache itself is
// stored by the session blob store under its own derived keys.
const (
	sessionKeyAccountID = "msal_home_account_id"
	sessionKeyUsername  = "msal_username"
	sessionKeyAuthState = "auth_state"
)

type profileResponse struct {
	Username      string    `json:"username"`
	HomeAccountID string    `json:"home_account_id"`
	TokenExpires  time.Time `json:"token_expires"`
	GrantedScopes []string  `json:"granted_scopes"`
}

type appTokenResponse struct {
	TokenType     string    `json:"token_type"`
	ExpiresOn     time.Time `json:"expires_on"`
	GrantedScopes []string  `json:"granted_scopes"`
}

// handleSignIn starts the interactive sign-in round trip: a state nonce
// bound to this session, then a redirect to the authority.
func handleSignIn(clients *identityClients, sessions *scs.SessionManager, cfg config.IdentityConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		ctx := r.Context()

		authURL, err := clients.user.AuthCodeURL(ctx, cfg.ClientID, cfg.RedirectURL, cfg.Scopes)
		if err != nil {
			log.Info().Msgf("auth code URL construction failed: %v", err)
			requestError(w, http.StatusBadGateway)
			return
		}

		state := uuid.NewString()
		sessions.Put(ctx, sessionKeyAuthState, state)

		u, err := url.Parse(authURL)
		if err != nil {
			log.Info().Msgf("invalid auth code URL: %v", err)
			requestError(w, http.StatusInternalServerError)
			return
		}
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()

		http.Redirect(w, r, u.String(), http.StatusFound)
	})
}

// handleCallback finishes the round trip: verifies state, redeems the
// authorization code (persisting the token cache as a side effect of
// the exchange), and records the account in the session.
func handleCallback(clients *identityClients, sessions *scs.SessionManager, cfg config.IdentityConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		ctx := r.Context()

		entry := audit.Log(ctx)

		query := r.URL.Query()
		if errCode := query.Get("error"); errCode != "" {
			log.Info().
				Str("error", errCode).
				Str("description", query.Get("error_description")).
				Msg("sign-in rejected by authority")
			entry.Error = fmt.Sprintf("sign-in rejected by authority: %s", errCode)
			requestError(w, http.StatusBadRequest)
			return
		}

		expectedState := sessions.PopString(ctx, sessionKeyAuthState)
		if expectedState == "" || query.Get("state") != expectedState {
			log.Info().Msg("state mismatch on sign-in callback")
			entry.Error = "state mismatch on sign-in callback"
			requestError(w, http.StatusBadRequest)
			return
		}

		code := query.Get("code")
		if code == "" {
			entry.Error = "authorization code missing from callback"
			requestError(w, http.StatusBadRequest)
			return
		}

		result, err := clients.user.AcquireTokenByAuthCode(ctx, code, cfg.RedirectURL, cfg.Scopes)
		if err != nil {
			log.Info().Msgf("token acquisition failed: %v", err)
			entry.Error = fmt.Sprintf("token acquisition failed: %v", err)
			requestError(w, http.StatusBadGateway)
			return
		}

		entry.Authorized = true
		entry.Principal = result.Account.HomeAccountID
		entry.Username = result.Account.PreferredUsername
		entry.GrantType = "authorization_code"
		entry.Scopes = result.GrantedScopes
		entry.ExpirySecs = result.ExpiresOn.Unix()

		// fresh session token for the newly authenticated principal
		if err := sessions.RenewToken(ctx); err != nil {
			log.Info().Msgf("session renewal failed: %v", err)
			requestError(w, http.StatusInternalServerError)
			return
		}
		sessions.Put(ctx, sessionKeyAccountID, result.Account.HomeAccountID)
		sessions.Put(ctx, sessionKeyUsername, result.Account.PreferredUsername)

		log.Info().Str("user", result.Account.PreferredUsername).Msg("user signed in")

		http.Redirect(w, r, "/profile", http.StatusFound)
	})
}

// handleProfile acquires a token silently for the signed-in user. The
// acquisition hydrates the client's cache from the session store, so
// this works on any instance the browser lands on.
func handleProfile(clients *identityClients, sessions *scs.SessionManager, cfg config.IdentityConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		ctx := r.Context()

		entry := audit.Log(ctx)

		homeAccountID := sessions.GetString(ctx, sessionKeyAccountID)
		if homeAccountID == "" {
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}

		account, err := clients.user.Account(ctx, homeAccountID)
		if err != nil {
			log.Info().Msgf("account lookup failed: %v", err)
			entry.Error = fmt.Sprintf("account lookup failed: %v", err)
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}

		result, err := clients.user.AcquireTokenSilent(ctx, cfg.Scopes,
			confidential.WithSilentAccount(account))
		if err != nil {
			// nothing usable in the cache: interactive sign-in again
			log.Info().Msgf("silent token acquisition failed: %v", err)
			entry.Error = fmt.Sprintf("silent token acquisition failed: %v", err)
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}

		entry.Authorized = true
		entry.Principal = homeAccountID
		entry.Username = sessions.GetString(ctx, sessionKeyUsername)
		entry.GrantType = "silent"
		entry.Scopes = result.GrantedScopes
		entry.ExpirySecs = result.ExpiresOn.Unix()

		writeJSON(w, http.StatusOK, profileResponse{
			Username:      sessions.GetString(ctx, sessionKeyUsername),
			HomeAccountID: homeAccountID,
			TokenExpires:  result.ExpiresOn,
			GrantedScopes: result.GrantedScopes,
		})
	})
}

// handleSignOut clears the persisted token cache for the principal and
// destroys the session.
func handleSignOut(userTokens *msalcache.CacheProvider, sessions *scs.SessionManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		ctx := r.Context()

		entry := audit.Log(ctx)
		entry.Principal = sessions.GetString(ctx, sessionKeyAccountID)
		entry.Username = sessions.GetString(ctx, sessionKeyUsername)
		entry.Authorized = entry.Principal != ""

		// clear the cache first, while the session still identifies the
		// principal
		if err := userTokens.Clear(ctx); err != nil {
			log.Info().Msgf("token cache clear failed: %v", err)
			entry.Error = fmt.Sprintf("token cache clear failed: %v", err)
		}

		if err := sessions.Destroy(ctx); err != nil {
			log.Info().Msgf("session destroy failed: %v", err)
			requestError(w, http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, "/", http.StatusFound)
	})
}

// handleAppToken acquires an app-only token with the client credential
// grant. Repeated calls return the cached token until it expires,
// observable through a stable expires_on.
func handleAppToken(clients *identityClients, cfg config.IdentityConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())

		result, err := clients.app.AcquireTokenByCredential(r.Context(), cfg.AppScopes)
		if err != nil {
			log.Info().Msgf("app token acquisition failed: %v", err)
			entry.Error = fmt.Sprintf("app token acquisition failed: %v", err)
			requestError(w, http.StatusBadGateway)
			return
		}

		entry.Authorized = true
		entry.Principal = cfg.ClientID
		entry.GrantType = "client_credentials"
		entry.Scopes = result.GrantedScopes
		entry.ExpirySecs = result.ExpiresOn.Unix()

		// the token itself stays out of the response
		writeJSON(w, http.StatusOK, appTokenResponse{
			TokenType:     "Bearer",
			ExpiresOn:     result.ExpiresOn,
			GrantedScopes: result.GrantedScopes,
		})
	})
}

func handleIndex() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "token cache example")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "GET /signin      interactive sign-in")
		fmt.Fprintln(w, "GET /profile     silent token acquisition for the signed-in user")
		fmt.Fprintln(w, "GET /signout     clear the user's token cache and session")
		fmt.Fprintln(w, "GET /apptoken    app-only token via client credentials")
		fmt.Fprintln(w, "GET /healthcheck liveness")
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody discards any unread request body so HTTP/1 clients
// can reuse the connection.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// requests are limited to 20KB; anything longer means a broken
		// or malicious client and the connection can drop
		io.CopyN(io.Discard, r.Body, 32*1024)
	}
}
