package blobstore

import (
	"fmt"
	"time"
)

// Config specifies token store configuration. Tags are processed by
// sethvargo/go-envconfig; hosts that assemble stores programmatically can
// populate the struct directly instead.
type Config struct {
	// Type selects the store implementation: "memory" (default), "valkey"
	// or "redis". The session store is constructed directly from a session
	// manager rather than from configuration.
	Type string `env:"TOKEN_STORE_TYPE, default=memory"`

	// TTL is the lifetime of a stored entry, restarted on every write.
	TTL time.Duration `env:"TOKEN_STORE_TTL, default=48h"`

	// MaxEntries bounds the in-memory store. Ignored by durable stores.
	MaxEntries int `env:"TOKEN_STORE_MAX_ENTRIES, default=10000"`

	// Valkey holds durable store settings for the valkey type.
	Valkey ValkeyConfig

	// Redis holds durable store settings for the redis type.
	Redis RedisConfig

	// Encryption holds at-rest encryption settings.
	// Only supported with the durable store types.
	Encryption EncryptionConfig
}

// ValkeyConfig specifies durable store configuration for Valkey.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication. Ignored when IAM auth is enabled.
	Password string `env:"VALKEY_PASSWORD"`

	// IAMEnabled switches authentication to AWS ElastiCache IAM tokens,
	// generated per connection from the ambient AWS credentials.
	IAMEnabled bool `env:"VALKEY_IAM_AUTH_ENABLED, default=false"`

	// IAMCacheName is the ElastiCache replication group or serverless cache
	// name used when signing IAM auth tokens.
	IAMCacheName string `env:"VALKEY_IAM_CACHE_NAME"`

	// IAMServerless signs tokens for an ElastiCache serverless cache.
	IAMServerless bool `env:"VALKEY_IAM_SERVERLESS, default=false"`
}

// RedisConfig specifies durable store configuration for Redis via go-redis.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string `env:"REDIS_ADDRESS"`

	// Username for Redis authentication.
	Username string `env:"REDIS_USERNAME"`

	// Password for Redis authentication.
	Password string `env:"REDIS_PASSWORD"`

	// DB is the logical database to select.
	DB int `env:"REDIS_DB, default=0"`
}

// EncryptionConfig holds settings for at-rest blob encryption.
type EncryptionConfig struct {
	// Enabled turns on encryption for stored token blobs.
	// Requires TOKEN_STORE_TYPE=valkey or TOKEN_STORE_TYPE=redis.
	Enabled bool `env:"TOKEN_STORE_ENCRYPTION_ENABLED, default=false"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"TOKEN_STORE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"TOKEN_STORE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`

	// KeysetFile is a path to a cleartext Tink keyset on disk. Intended for
	// local development; when set it takes precedence over KeysetURI.
	KeysetFile string `env:"TOKEN_STORE_ENCRYPTION_KEYSET_FILE"`
}

// Validate checks that the store configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case "memory", "valkey", "redis":
	default:
		return fmt.Errorf("invalid store type %q: must be \"memory\", \"valkey\" or \"redis\"", c.Type)
	}

	// Encryption requires a durable store
	if c.Encryption.Enabled && c.Type == "memory" {
		return fmt.Errorf("store encryption requires TOKEN_STORE_TYPE=valkey or redis")
	}

	// Encryption requires a keyset source
	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("TOKEN_STORE_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("TOKEN_STORE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	// Durable stores require an address
	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when TOKEN_STORE_TYPE=valkey")
	}
	if c.Type == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("REDIS_ADDRESS required when TOKEN_STORE_TYPE=redis")
	}

	// IAM auth signs tokens against a named cache
	if c.Valkey.IAMEnabled && c.Valkey.IAMCacheName == "" {
		return fmt.Errorf("VALKEY_IAM_CACHE_NAME required when IAM auth enabled")
	}

	return nil
}
