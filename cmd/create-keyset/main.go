// This command is only used for setup: it generates the Tink keyset that
// encrypts token blobs at rest. By default the keyset is written cleartext
// for local development. With a KMS key URI configured, the keyset is
// envelope-encrypted and can be stored as the Secrets Manager secret the
// server reads at startup.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sethvargo/go-envconfig"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
)

type Config struct {
	OutputPath        string `env:"UTIL_OUTPUT_PATH, default=.development/keys/token-keyset.json"`
	KMSEnvelopeKeyURI string `env:"UTIL_KMS_ENVELOPE_KEY_URI"`
}

func main() {
	ctx := context.Background()

	cfg := Config{}
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating keyset: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	out, err := os.OpenFile(cfg.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating output file: %v\n", err)
		os.Exit(1)
	}

	if cfg.KMSEnvelopeKeyURI != "" {
		err = writeEncrypted(ctx, handle, out, cfg.KMSEnvelopeKeyURI)
	} else {
		err = writeCleartext(handle, out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error writing keyset: %v\n", err)
		os.Exit(1)
	}

	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing output file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("keyset written to %s\n", cfg.OutputPath)
}

// writeEncrypted wraps the keyset with the KMS key so the stored form never
// contains key material in the clear.
func writeEncrypted(ctx context.Context, handle *keyset.Handle, out *os.File, kmsKeyURI string) error {
	kmsAEAD, err := awskms.NewAEADWithContext(ctx, kmsKeyURI)
	if err != nil {
		return fmt.Errorf("creating KMS AEAD: %w", err)
	}

	return handle.WriteWithContext(ctx, keyset.NewJSONWriter(out), kmsAEAD, nil)
}

// writeCleartext writes the keyset unprotected. Development only.
func writeCleartext(handle *keyset.Handle, out *os.File) error {
	return insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(out))
}
