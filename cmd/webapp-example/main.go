// Example web application persisting MSAL token caches through the
// msalcache providers: user tokens in the browser session, app tokens
// in the configured blob store (in-process memory by default, Valkey or
// Redis when configured).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"github.com/alexedwards/scs/v2"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webident/msalcache"
	"github.com/webident/msalcache/blobstore"
	"github.com/webident/msalcache/cachekey"
	"github.com/webident/msalcache/internal/audit"
	"github.com/webident/msalcache/internal/config"
	"github.com/webident/msalcache/internal/observe"
	"github.com/webident/msalcache/internal/server"
)

// identityClients holds the two confidential clients: one for user
// flows bound to the session-backed cache, one for app-only flows
// bound to the shared store. Separate clients keep the two cache
// populations apart.
type identityClients struct {
	user confidential.Client
	app  confidential.Client
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	var shutdown server.ShutdownHooks

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	shutdown.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	sessions := configureSessions(cfg.Session)

	// user token caches live inside the browser session; the principal
	// for cache keying comes from the session as well
	userTokens := msalcache.NewUserProvider(
		blobstore.NewSession(sessions),
		sessionPrincipal(sessions),
	)
	shutdown.AddCloser("user token cache", userTokens)

	// app tokens are shared by every instance, so they go to the
	// configured store
	appStore, err := blobstore.NewFromConfig(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("token store configuration failed: %w", err)
	}
	appTokens := msalcache.NewAppProvider(appStore, cfg.Identity.ClientID)
	shutdown.AddCloser("app token cache", appTokens)

	clients, err := newIdentityClients(cfg.Identity,
		msalcache.NewTokenCache(userTokens),
		msalcache.NewTokenCache(appTokens),
	)
	if err != nil {
		return fmt.Errorf("identity client configuration failed: %w", err)
	}

	handler := configureServerRoutes(cfg, clients, userTokens, sessions)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	err = serveHTTP(cfg.Server, httpServer)

	// release caches and flush telemetry once the listener has drained
	shutdown.Execute(ctx)

	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureServerRoutes(cfg config.Config, clients *identityClients, userTokens *msalcache.CacheProvider, sessions *scs.SessionManager) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	sessionRouteMiddleware := alice.New(requestLimiter, auditor, sessions.LoadAndSave)
	tokenRouteMiddleware := alice.New(requestLimiter, auditor)
	standardRouteMiddleware := alice.New(requestLimiter)

	// interactive sign-in round trip and the token routes that depend on
	// the session principal
	mux.Handle("GET /signin", sessionRouteMiddleware.Then(handleSignIn(clients, sessions, cfg.Identity)))
	mux.Handle("GET /callback", sessionRouteMiddleware.Then(handleCallback(clients, sessions, cfg.Identity)))
	mux.Handle("GET /profile", sessionRouteMiddleware.Then(handleProfile(clients, sessions, cfg.Identity)))
	mux.Handle("GET /signout", sessionRouteMiddleware.Then(handleSignOut(userTokens, sessions)))

	// app-only tokens need no session but are still audited
	mux.Handle("GET /apptoken", tokenRouteMiddleware.Then(handleAppToken(clients, cfg.Identity)))
	mux.Handle("GET /", standardRouteMiddleware.Then(handleIndex()))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func newIdentityClients(cfg config.IdentityConfig, userCache, appCache *msalcache.TokenCache) (*identityClients, error) {
	cred, err := confidential.NewCredFromSecret(cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("client credential configuration failed: %w", err)
	}

	user, err := confidential.New(cfg.Authority, cfg.ClientID, cred,
		confidential.WithCache(userCache),
		confidential.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		return nil, fmt.Errorf("user client configuration failed: %w", err)
	}

	app, err := confidential.New(cfg.Authority, cfg.ClientID, cred,
		confidential.WithCache(appCache),
		confidential.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		return nil, fmt.Errorf("app client configuration failed: %w", err)
	}

	return &identityClients{user: user, app: app}, nil
}

func configureSessions(cfg config.SessionConfig) *scs.SessionManager {
	sessions := scs.New()
	sessions.Lifetime = cfg.Lifetime
	sessions.Cookie.Name = cfg.CookieName
	sessions.Cookie.Secure = cfg.CookieSecure
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	return sessions
}

// sessionPrincipal derives the cache principal from the home account ID
// recorded in the session at sign-in.
func sessionPrincipal(sessions *scs.SessionManager) msalcache.PrincipalFunc {
	return func(ctx context.Context) (cachekey.Account, bool) {
		return cachekey.FromHomeAccountID(sessions.GetString(ctx, sessionKeyAccountID))
	}
}

// serveHTTP runs the server until a termination signal arrives, then
// drains it within the configured shutdown timeout.
func serveHTTP(cfg config.ServerConfig, httpServer *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting server")
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
