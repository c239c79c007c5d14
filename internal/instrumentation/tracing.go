package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for mailtriage spans.
const TracerName = "mailtriage"

// Span attribute keys.
const (
	SpanAttrOperation = "mailtriage.operation"
	SpanAttrAction    = "mailtriage.action"
	SpanAttrEmailID   = "mailtriage.email_id"
	SpanAttrSeq       = "mailtriage.seq"
	SpanAttrStatus    = "http.response.status_code"
)

// StartSpan starts a span on the global tracer provider, which is a no-op
// until a Provider is created.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
