package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
)

// Result values for backend and workflow metrics.
const (
	ResultSuccess    = "success"
	ResultError      = "error"
	ResultSuperseded = "superseded"
	ResultRejected   = "rejected"
)

// Metrics records mailtriage metrics. The zero value is a no-op.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	backendRequestsTotal   metric.Int64Counter
	backendRequestDuration metric.Float64Histogram

	workflowTotal metric.Int64Counter
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"mailtriage.http.requests",
		metric.WithDescription("Total number of HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"mailtriage.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.backendRequestsTotal, err = meter.Int64Counter(
		"mailtriage.backend.requests",
		metric.WithDescription("Total number of calls to the email backend"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend requests counter: %w", err)
	}

	m.backendRequestDuration, err = meter.Float64Histogram(
		"mailtriage.backend.request.duration",
		metric.WithDescription("Email backend call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend duration histogram: %w", err)
	}

	m.workflowTotal, err = meter.Int64Counter(
		"mailtriage.workflow.operations",
		metric.WithDescription("Search and action outcomes as seen by the user"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served request. route is the matched route
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.String(attrStatus, strconv.Itoa(status)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBackendRequest records one backend call. status is the HTTP status,
// or 0 when no response was received.
func (m *Metrics) RecordBackendRequest(ctx context.Context, operation string, status int, d time.Duration) {
	if m == nil || m.backendRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, strconv.Itoa(status)),
	)
	m.backendRequestsTotal.Add(ctx, 1, attrs)
	m.backendRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordWorkflow records the outcome of a search or action.
func (m *Metrics) RecordWorkflow(ctx context.Context, operation, result string) {
	if m == nil || m.workflowTotal == nil {
		return
	}
	m.workflowTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrResult, result),
	))
}
