package mux

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const valuesKey ctxKey = 1

// RequestValues is the per-request state the App attaches to the handler
// context. Middleware reads it for trace IDs and the final status.
type RequestValues struct {
	TraceID    string
	Started    time.Time
	Tracer     trace.Tracer
	StatusCode int
}

// SetStatusCode records the status written for the request. It is a no-op
// outside a routed request.
func SetStatusCode(ctx context.Context, statusCode int) {
	if v, ok := ctx.Value(valuesKey).(*RequestValues); ok {
		v.StatusCode = statusCode
	}
}

// Values returns the request state of ctx. Outside a routed request, for
// instance in a background job, it returns fresh values carrying the nil
// UUID as trace ID.
func Values(ctx context.Context) *RequestValues {
	if v, ok := ctx.Value(valuesKey).(*RequestValues); ok {
		return v
	}

	return &RequestValues{
		TraceID: uuid.Nil.String(),
		Tracer:  otel.Tracer(tracerName),
		Started: time.Now(),
	}
}

// TraceID is shorthand for Values(ctx).TraceID.
func TraceID(ctx context.Context) string {
	return Values(ctx).TraceID
}

// AddSpan starts a span beneath the request span, for work such as
// storing a fetched document. Outside a routed request it returns ctx and
// its current span unchanged.
func AddSpan(ctx context.Context, spanName string, keyValues ...attribute.KeyValue) (context.Context, trace.Span) {
	v, ok := ctx.Value(valuesKey).(*RequestValues)
	if !ok || v.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return v.Tracer.Start(ctx, spanName, trace.WithAttributes(keyValues...))
}

func withValues(ctx context.Context, v *RequestValues) context.Context {
	return context.WithValue(ctx, valuesKey, v)
}
