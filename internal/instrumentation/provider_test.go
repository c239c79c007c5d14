package instrumentation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/config"
)

func TestDisabledProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.PrometheusHandler())
	assert.NotNil(t, p.Metrics())
	assert.NoError(t, p.Shutdown(context.Background()))

	// No-op recorders must not panic.
	p.Metrics().RecordBackendRequest(context.Background(), "search", 200, time.Millisecond)
	p.Metrics().RecordHTTPRequest(context.Background(), "GET", "/", 200, time.Millisecond)
	p.Metrics().RecordWorkflow(context.Background(), "search", ResultSuccess)
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Metrics())
	assert.Nil(t, p.PrometheusHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPrometheusProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, Config{
		Enabled:         true,
		ServiceName:     "mailtriage-test",
		ServiceVersion:  "test",
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	assert.True(t, p.Enabled())
	p.Metrics().RecordBackendRequest(ctx, "search", 200, 20*time.Millisecond)
	p.Metrics().RecordWorkflow(ctx, "action", ResultError)

	handler := p.PrometheusHandler()
	require.NotNil(t, handler)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "mailtriage_backend_requests")
	assert.Contains(t, string(body), "mailtriage_workflow_operations")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		errContains string
	}{
		{name: "disabled skips checks", config: Config{MetricsExporter: "bogus"}},
		{name: "prometheus", config: Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone}},
		{name: "stdout tracing", config: Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterStdout}},
		{
			name:        "otlp without endpoint",
			config:      Config{Enabled: true, MetricsExporter: ExporterOTLP, TracingExporter: ExporterNone},
			errContains: "OTLP endpoint is required",
		},
		{
			name:        "unknown metrics exporter",
			config:      Config{Enabled: true, MetricsExporter: "statsd", TracingExporter: ExporterNone},
			errContains: "unsupported metrics exporter",
		},
		{
			name:        "unknown tracing exporter",
			config:      Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: "zipkin"},
			errContains: "unsupported tracing exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestFromConfigDefaults(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{Enabled: true}, "v1.2.3")
	assert.Equal(t, "mailtriage", cfg.ServiceName)
	assert.Equal(t, "v1.2.3", cfg.ServiceVersion)
	assert.Equal(t, ExporterPrometheus, cfg.MetricsExporter)
	assert.Equal(t, ExporterNone, cfg.TracingExporter)
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	_, span = StartSpan(context.Background(), "test")
	EndSpan(span, nil)
}
