// Package encryption provides the AEAD primitives that protect token blobs
// at rest in durable stores. Keysets are Tink keysets: envelope-encrypted in
// AWS Secrets Manager for production, or cleartext on disk for development.
package encryption

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// KMSAPI is the subset of the AWS KMS client used to unwrap keysets.
type KMSAPI interface {
	Encrypt(ctx context.Context, input *kms.EncryptInput, opts ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, input *kms.DecryptInput, opts ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// SecretsManagerAPI is the subset of the AWS Secrets Manager client used to
// fetch stored keysets.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Option adjusts keyset loading. The client overrides exist for testing.
type Option func(*loadOptions)

type loadOptions struct {
	kmsClient KMSAPI
	smClient  SecretsManagerAPI
}

// WithKMSClient overrides the KMS client used to unwrap the keyset.
func WithKMSClient(client KMSAPI) Option {
	return func(o *loadOptions) {
		o.kmsClient = client
	}
}

// WithSecretsManagerClient overrides the Secrets Manager client used to read
// the keyset.
func WithSecretsManagerClient(client SecretsManagerAPI) Option {
	return func(o *loadOptions) {
		o.smClient = client
	}
}

// Validate performs a test encryption/decryption cycle to verify the AEAD is
// working. Call this at startup to fail fast if encryption is misconfigured.
func Validate(a tink.AEAD) error {
	testPlaintext := []byte("msalcache-encryption-test")
	testAAD := []byte("validation")

	ciphertext, err := a.Encrypt(testPlaintext, testAAD)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := a.Decrypt(ciphertext, testAAD)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(testPlaintext, decrypted) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewAEAD creates the AEAD primitive for a keyset handle.
func NewAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	if handle == nil {
		return nil, fmt.Errorf("creating AEAD primitive: keyset handle is nil")
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}
	return primitive, nil
}

// newValidatedAEAD builds the primitive for a handle and proves it works
// before it is put into service.
func newValidatedAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	primitive, err := NewAEAD(handle)
	if err != nil {
		return nil, err
	}

	if err := Validate(primitive); err != nil {
		return nil, fmt.Errorf("validating AEAD: %w", err)
	}

	return primitive, nil
}

// LoadKeysetFromAWS reads an envelope-encrypted Tink keyset from AWS Secrets
// Manager and unwraps it with the configured KMS key. KMS is only needed
// while loading; encrypt/decrypt operations on the resulting handle are
// local.
//
// keysetURI format: aws-secretsmanager://secret-name
// kmsEnvelopeKeyURI format: aws-kms://arn:aws:kms:region:account:key/key-id
func LoadKeysetFromAWS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string, opts ...Option) (*keyset.Handle, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	var kmsAEAD tink.AEADWithContext
	var err error
	if lo.kmsClient != nil {
		kmsAEAD, err = awskms.NewAEADWithContext(ctx, kmsEnvelopeKeyURI, awskms.WithKMS(lo.kmsClient))
	} else {
		kmsAEAD, err = awskms.NewAEADWithContext(ctx, kmsEnvelopeKeyURI)
	}
	if err != nil {
		return nil, fmt.Errorf("creating KMS AEAD: %w", err)
	}

	smClient := lo.smClient
	if smClient == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		smClient = secretsmanager.NewFromConfig(awsCfg)
	}

	keysetReader, err := readKeysetFromSecretsManager(ctx, keysetURI, smClient)
	if err != nil {
		return nil, fmt.Errorf("reading keyset: %w", err)
	}

	handle, err := keyset.ReadWithContext(ctx, keysetReader, kmsAEAD, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting keyset: %w", err)
	}

	return handle, nil
}

// LoadKeysetFromFile reads a cleartext Tink keyset from disk. Development
// only: the keyset is unprotected.
func LoadKeysetFromFile(path string) (*keyset.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyset file: %w", err)
	}
	defer func() { _ = f.Close() }()

	handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading cleartext keyset: %w", err)
	}

	return handle, nil
}

// readKeysetFromSecretsManager reads a Tink keyset from AWS Secrets Manager.
// URI format: aws-secretsmanager://secret-name
func readKeysetFromSecretsManager(ctx context.Context, uri string, client SecretsManagerAPI) (*keyset.JSONReader, error) {
	const prefix = "aws-secretsmanager://"
	if !strings.HasPrefix(uri, prefix) {
		return nil, fmt.Errorf("invalid secrets manager URI %q: must start with %s", uri, prefix)
	}

	secretName := strings.TrimPrefix(uri, prefix)
	if secretName == "" {
		return nil, fmt.Errorf("invalid secrets manager URI %q: secret name is empty", uri)
	}

	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretName,
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %q: %w", secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", secretName)
	}

	return keyset.NewJSONReader(strings.NewReader(*result.SecretString)), nil
}

// NewTestAEAD creates a tink.AEAD for testing without KMS.
// Only use in tests: keys are not persisted or protected.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating test AEAD primitive: %w", err)
	}
	return primitive, nil
}
