// Package instrumentation wires OpenTelemetry metrics and tracing for
// mailtriage.
//
// Metrics are exported either through a Prometheus registry (scraped at
// /metrics on the web server) or to stdout / OTLP. Traces go to stdout or
// OTLP, or nowhere. When the provider is disabled every recorder is a no-op,
// so callers never need to check.
package instrumentation
