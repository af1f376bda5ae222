package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global and context zerolog loggers through the
// test's log output for the duration of a test, restoring the previous
// configuration on cleanup.
func SetupLogger(t *testing.T) {
	t.Helper()

	originalLogger := log.Logger
	originalContextLogger := zerolog.DefaultContextLogger

	log.Logger = zerolog.New(zerolog.NewTestWriter(t))
	zerolog.DefaultContextLogger = &log.Logger

	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.DefaultContextLogger = originalContextLogger
	})
}
