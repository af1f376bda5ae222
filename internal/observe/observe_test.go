package observe

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/webident/msalcache/internal/config"
)

func TestConfigureDisabled(t *testing.T) {
	shutdown, err := Configure(t.Context(), config.ObserveConfig{Enabled: false})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(t.Context()))
}

func TestConfigureStdoutExporters(t *testing.T) {
	cfg := config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "observe-test",
		SDKLogLevel:               "warn",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	}

	shutdown, err := Configure(t.Context(), cfg)

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(t.Context()))
}

func TestConfigureUnknownExporterType(t *testing.T) {
	cfg := config.ObserveConfig{
		Enabled: true,
		Type:    "carrier-pigeon",
	}

	_, err := Configure(t.Context(), cfg)

	require.ErrorContains(t, err, "unknown telemetry exporter type")
}

func TestHTTPTransportDisabled(t *testing.T) {
	base := &http.Transport{}

	assert.Same(t, base, HTTPTransport(base, config.ObserveConfig{Enabled: false}))
	assert.Same(t, base, HTTPTransport(base, config.ObserveConfig{
		Enabled:              true,
		HTTPTransportEnabled: false,
	}))
}

func TestHTTPTransportEnabled(t *testing.T) {
	base := &http.Transport{}
	cfg := config.ObserveConfig{
		Enabled:                    true,
		HTTPTransportEnabled:       true,
		HTTPConnectionTraceEnabled: true,
	}

	wrapped := HTTPTransport(base, cfg)

	assert.IsType(t, &otelhttp.Transport{}, wrapped)
}

func TestTelemetryLoggerUnknownLevel(t *testing.T) {
	// Falls back to info rather than failing; the logger must always be
	// usable.
	logger := telemetryLogger("shouty")
	assert.NotNil(t, logger.GetSink())

	logger = telemetryLogger("debug")
	assert.NotNil(t, logger.GetSink())
}
