package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/webident/msalcache/blobstore"
)

type Config struct {
	Identity IdentityConfig
	Session  SessionConfig
	Store    blobstore.Config
	Observe  ObserveConfig
	Server   ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// IdentityConfig describes the confidential client registration used to
// sign users in and acquire tokens on their behalf.
type IdentityConfig struct {
	// Authority is the token authority URL including the tenant, e.g.
	// https://login.microsoftonline.com/<tenant-id>
	Authority string `env:"IDENTITY_AUTHORITY, required"`

	ClientID     string `env:"IDENTITY_CLIENT_ID, required"`
	ClientSecret string `env:"IDENTITY_CLIENT_SECRET, required"`

	// RedirectURL must match a redirect URI registered for the client.
	RedirectURL string `env:"IDENTITY_REDIRECT_URL, default=http://localhost:8080/callback"`

	// Scopes requested during interactive sign-in.
	Scopes []string `env:"IDENTITY_SCOPES, default=User.Read"`

	// AppScopes requested for app-only (client credential) tokens.
	AppScopes []string `env:"IDENTITY_APP_SCOPES, default=https://graph.microsoft.com/.default"`
}

// SessionConfig controls the browser session cookie.
type SessionConfig struct {
	Lifetime   time.Duration `env:"SESSION_LIFETIME, default=12h"`
	CookieName string        `env:"SESSION_COOKIE_NAME, default=msalcache_session"`

	// CookieSecure marks the session cookie Secure. Defaults to true;
	// disable for plain-HTTP local runs.
	CookieSecure bool `env:"SESSION_COOKIE_SECURE, default=true"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=msalcache-example"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Store.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid token store configuration: %w", err)
	}

	return cfg, nil
}
