package blobstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"

	"github.com/webident/msalcache/encryption"
)

// NewFromConfig creates a store implementation based on the provided
// configuration. It returns the store and any error encountered.
//
// The store type must be "memory", "valkey" or "redis". Any other value
// returns an error. Durable types require the corresponding address. The
// returned store is wrapped with metrics instrumentation.
func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "valkey":
		log.Info().
			Str("store_type", "valkey").
			Str("address", cfg.Valkey.Address).
			Bool("tls", cfg.Valkey.TLS).
			Bool("iam_enabled", cfg.Valkey.IAMEnabled).
			Msg("initializing durable token store")

		valkeyOpts := valkey.ClientOption{
			InitAddress: []string{cfg.Valkey.Address},
		}

		if cfg.Valkey.IAMEnabled {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("loading AWS config for IAM auth: %w", err)
			}

			credsFn, err := IAMCredentialsFn(cfg.Valkey, awsCfg)
			if err != nil {
				return nil, fmt.Errorf("configuring IAM credentials: %w", err)
			}
			valkeyOpts.AuthCredentialsFn = credsFn
			valkeyOpts.ConnLifetime = 11 * time.Hour
		} else {
			valkeyOpts.AuthCredentialsFn = StaticCredentialsFn(
				cfg.Valkey.Username,
				cfg.Valkey.Password,
			)
		}

		if cfg.Valkey.TLS {
			valkeyOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		strategy, err := newEncryptionStrategy(ctx, cfg.Encryption)
		if err != nil {
			valkeyClient.Close()
			return nil, err
		}

		return NewInstrumented(NewValkey(valkeyClient, cfg.TTL, strategy), "valkey"), nil

	case "redis":
		log.Info().
			Str("store_type", "redis").
			Str("address", cfg.Redis.Address).
			Msg("initializing durable token store")

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		strategy, err := newEncryptionStrategy(ctx, cfg.Encryption)
		if err != nil {
			_ = redisClient.Close()
			return nil, err
		}

		return NewInstrumented(NewRedis(redisClient, cfg.TTL, strategy), "redis"), nil

	case "memory":
		log.Info().
			Str("store_type", "memory").
			Msg("initializing in-memory token store")

		return NewInstrumented(NewMemory(cfg.TTL, cfg.MaxEntries), "memory"), nil

	default:
		return nil, fmt.Errorf("invalid store type %q: must be \"memory\", \"valkey\" or \"redis\"", cfg.Type)
	}
}

// newEncryptionStrategy builds the at-rest encryption strategy for a durable
// store, or nil when encryption is disabled.
func newEncryptionStrategy(ctx context.Context, cfg EncryptionConfig) (EncryptionStrategy, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var aead *encryption.RefreshableAEAD
	var err error

	switch {
	case cfg.KeysetFile != "":
		aead, err = encryption.NewRefreshableAEADFromFile(ctx, cfg.KeysetFile)
	default:
		aead, err = encryption.NewRefreshableAEAD(ctx, cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	log.Info().Msg("token store encryption enabled with automatic keyset refresh")

	return NewInstrumentedStrategy(NewTinkEncryptionStrategy(aead)), nil
}
