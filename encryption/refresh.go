package encryption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often the backing keyset is reloaded,
// letting key rotation take effect without a restart.
const DefaultRefreshInterval = 12 * time.Hour

// aeadLoader loads a fresh AEAD primitive, typically by re-reading the
// backing keyset.
type aeadLoader func(context.Context) (tink.AEAD, error)

// RefreshableAEAD is a tink.AEAD that periodically reloads its backing
// keyset. Encrypt and Decrypt always use the most recently loaded keyset;
// entries written under an earlier primary key still decrypt as long as the
// key remains in the keyset.
type RefreshableAEAD struct {
	mu   sync.RWMutex
	aead tink.AEAD

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewRefreshableAEAD creates a refreshable AEAD whose keyset lives in AWS
// Secrets Manager, envelope-encrypted with the configured KMS key. The
// keyset is reloaded every DefaultRefreshInterval.
func NewRefreshableAEAD(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (*RefreshableAEAD, error) {
	loader := func(ctx context.Context) (tink.AEAD, error) {
		handle, err := LoadKeysetFromAWS(ctx, keysetURI, kmsEnvelopeKeyURI)
		if err != nil {
			return nil, err
		}
		return newValidatedAEAD(handle)
	}

	return newRefreshableAEAD(ctx, loader, DefaultRefreshInterval)
}

// NewRefreshableAEADFromFile creates a refreshable AEAD whose keyset is read
// as cleartext from disk. Development only.
func NewRefreshableAEADFromFile(ctx context.Context, path string) (*RefreshableAEAD, error) {
	loader := func(_ context.Context) (tink.AEAD, error) {
		handle, err := LoadKeysetFromFile(path)
		if err != nil {
			return nil, err
		}
		return newValidatedAEAD(handle)
	}

	return newRefreshableAEAD(ctx, loader, DefaultRefreshInterval)
}

func newRefreshableAEAD(ctx context.Context, load aeadLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading initial AEAD: %w", err)
	}

	// The refresh loop must outlive the startup context; Close owns its
	// cancellation.
	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r := &RefreshableAEAD{
		aead:   initial,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go r.refreshLoop(refreshCtx, load, interval)

	return r, nil
}

func (r *RefreshableAEAD) refreshLoop(ctx context.Context, load aeadLoader, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, load)
		}
	}
}

func (r *RefreshableAEAD) refresh(ctx context.Context, load aeadLoader) {
	fresh, err := load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("keyset refresh failed, continuing with current keyset")
		return
	}

	r.mu.Lock()
	r.aead = fresh
	r.mu.Unlock()

	log.Debug().Msg("keyset refreshed")
}

// Encrypt encrypts plaintext with the current keyset.
func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	a := r.aead
	r.mu.RUnlock()

	return a.Encrypt(plaintext, associatedData)
}

// Decrypt decrypts ciphertext with the current keyset.
func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	a := r.aead
	r.mu.RUnlock()

	return a.Decrypt(ciphertext, associatedData)
}

// Close stops the refresh goroutine, cancelling any in-flight reload. Safe
// to call more than once.
func (r *RefreshableAEAD) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}
