package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		errContains string
	}{
		{
			name: "memory is valid",
			cfg:  Config{Type: "memory"},
		},
		{
			name: "valkey with address is valid",
			cfg: Config{
				Type:   "valkey",
				Valkey: ValkeyConfig{Address: "localhost:6379"},
			},
		},
		{
			name: "redis with address is valid",
			cfg: Config{
				Type:  "redis",
				Redis: RedisConfig{Address: "localhost:6379"},
			},
		},
		{
			name:        "unknown type rejected",
			cfg:         Config{Type: "memcached"},
			errContains: "invalid store type",
		},
		{
			name:        "valkey without address rejected",
			cfg:         Config{Type: "valkey"},
			errContains: "VALKEY_ADDRESS required",
		},
		{
			name:        "redis without address rejected",
			cfg:         Config{Type: "redis"},
			errContains: "REDIS_ADDRESS required",
		},
		{
			name: "encryption with memory rejected",
			cfg: Config{
				Type:       "memory",
				Encryption: EncryptionConfig{Enabled: true},
			},
			errContains: "encryption requires",
		},
		{
			name: "encryption without keyset URI rejected",
			cfg: Config{
				Type:       "valkey",
				Valkey:     ValkeyConfig{Address: "localhost:6379"},
				Encryption: EncryptionConfig{Enabled: true},
			},
			errContains: "TOKEN_STORE_ENCRYPTION_KEYSET_URI required",
		},
		{
			name: "encryption without KMS key rejected",
			cfg: Config{
				Type:   "valkey",
				Valkey: ValkeyConfig{Address: "localhost:6379"},
				Encryption: EncryptionConfig{
					Enabled:   true,
					KeysetURI: "aws-secretsmanager://keyset",
				},
			},
			errContains: "TOKEN_STORE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required",
		},
		{
			name: "encryption with keyset file needs no URIs",
			cfg: Config{
				Type:   "valkey",
				Valkey: ValkeyConfig{Address: "localhost:6379"},
				Encryption: EncryptionConfig{
					Enabled:    true,
					KeysetFile: "/tmp/keyset.json",
				},
			},
		},
		{
			name: "encryption with both URIs is valid",
			cfg: Config{
				Type:   "redis",
				Redis:  RedisConfig{Address: "localhost:6379"},
				Encryption: EncryptionConfig{
					Enabled:           true,
					KeysetURI:         "aws-secretsmanager://keyset",
					KMSEnvelopeKeyURI: "aws-kms://arn:aws:kms:us-east-1:123:key/abc",
				},
			},
		},
		{
			name: "IAM auth without cache name rejected",
			cfg: Config{
				Type: "valkey",
				Valkey: ValkeyConfig{
					Address:    "localhost:6379",
					IAMEnabled: true,
				},
			},
			errContains: "VALKEY_IAM_CACHE_NAME required",
		},
		{
			name: "IAM auth with cache name is valid",
			cfg: Config{
				Type: "valkey",
				Valkey: ValkeyConfig{
					Address:      "localhost:6379",
					IAMEnabled:   true,
					IAMCacheName: "my-cache",
					Username:     "iam-user",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			}
		})
	}
}
