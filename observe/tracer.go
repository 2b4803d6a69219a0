package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span names used by gatekeeper.
const (
	SpanAuthorize     = "auth.authorize"
	SpanKeySetRefresh = "auth.jwks.refresh"
)

// Attribute keys shared by spans and metrics.
const (
	AttrPermission = attribute.Key("auth.permission")
	AttrOutcome    = attribute.Key("auth.outcome")
	AttrSubject    = attribute.Key("auth.subject")
	AttrKeyID      = attribute.Key("auth.kid")
	AttrKeyCount   = attribute.Key("auth.jwks.keys")
	AttrSource     = attribute.Key("auth.jwks.source")
)

// Tracer wraps OpenTelemetry tracing for auth decisions and key set refreshes.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// EndSpan sets the span outcome and ends it.
	EndSpan(span trace.Span, outcome string, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(AttrOutcome.String(outcome))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NoopTracer returns a tracer whose spans are never recorded.
func NoopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
