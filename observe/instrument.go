package observe

import (
	"context"
	"time"
)

// Instrumentation bundles the telemetry handles used by auth components.
// A zero value or nil field falls back to the no-op implementation.
type Instrumentation struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// NewInstrumentation builds tracer, metrics and logger handles from obs.
func NewInstrumentation(obs Observer) (*Instrumentation, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return &Instrumentation{
		Tracer:  NewTracer(obs.Tracer()),
		Metrics: metrics,
		Logger:  obs.Logger(),
	}, nil
}

// NoopInstrumentation returns instrumentation that records nothing.
func NoopInstrumentation() *Instrumentation {
	return &Instrumentation{
		Tracer:  NoopTracer(),
		Metrics: NoopMetrics(),
		Logger:  NoopLogger(),
	}
}

// Normalize returns a copy with nil handles replaced by no-ops.
func (i *Instrumentation) Normalize() *Instrumentation {
	out := NoopInstrumentation()
	if i == nil {
		return out
	}
	if i.Tracer != nil {
		out.Tracer = i.Tracer
	}
	if i.Metrics != nil {
		out.Metrics = i.Metrics
	}
	if i.Logger != nil {
		out.Logger = i.Logger
	}
	return out
}

// Decision is the observable result of one authorization decision.
type Decision struct {
	Subject string
	Outcome string // "allow" or a failure code
	Err     error

	// Severe marks failures caused by the server side (e.g. the key set
	// could not be fetched) rather than by the caller's credentials.
	Severe bool
}

// OutcomeAllow is the outcome recorded for a granted decision.
const OutcomeAllow = "allow"

// Decide runs fn inside an auth.authorize span and records the decision
// metric and log entry. The Decision returned by fn is passed through unchanged.
func (i *Instrumentation) Decide(ctx context.Context, permission string, fn func(ctx context.Context) Decision) Decision {
	ctx, span := i.Tracer.StartSpan(ctx, SpanAuthorize, AttrPermission.String(permission))

	start := time.Now()
	d := fn(ctx)
	elapsed := time.Since(start)

	if d.Subject != "" {
		span.SetAttributes(AttrSubject.String(d.Subject))
	}
	i.Tracer.EndSpan(span, d.Outcome, d.Err)
	i.Metrics.RecordDecision(ctx, permission, d.Outcome, elapsed)

	fields := []Field{
		F("permission", permission),
		F("outcome", d.Outcome),
		F("duration_ms", float64(elapsed)/float64(time.Millisecond)),
	}
	if d.Subject != "" {
		fields = append(fields, F("subject", d.Subject))
	}

	switch {
	case d.Err == nil:
		i.Logger.Debug(ctx, "auth decision", fields...)
	case d.Severe:
		i.Logger.Error(ctx, "auth decision", append(fields, F("error", d.Err))...)
	default:
		i.Logger.Warn(ctx, "auth decision", append(fields, F("error", d.Err))...)
	}

	return d
}
