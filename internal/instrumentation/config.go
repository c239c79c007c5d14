package instrumentation

import (
	"fmt"

	"mailtriage/config"
)

// Exporter names accepted in configuration.
const (
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterNone       = "none"
)

// Config holds instrumentation settings.
type Config struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	MetricsExporter string
	TracingExporter string
	OTLPEndpoint    string
	OTLPInsecure    bool
}

// FromConfig maps the file configuration onto a Config.
func FromConfig(c config.TelemetryConfig, version string) Config {
	cfg := Config{
		Enabled:         c.Enabled,
		ServiceName:     c.ServiceName,
		ServiceVersion:  version,
		MetricsExporter: c.MetricsExporter,
		TracingExporter: c.TracingExporter,
		OTLPEndpoint:    c.OTLPEndpoint,
		OTLPInsecure:    c.OTLPInsecure,
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mailtriage"
	}
	if cfg.MetricsExporter == "" {
		cfg.MetricsExporter = ExporterPrometheus
	}
	if cfg.TracingExporter == "" {
		cfg.TracingExporter = ExporterNone
	}
	return cfg
}

// Validate checks exporter names and required endpoints.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required for OTLP metrics exporter")
		}
	default:
		return fmt.Errorf("unsupported metrics exporter: %s", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required for OTLP tracing exporter")
		}
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.TracingExporter)
	}
	return nil
}
