package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricDecisions        = "auth.decisions"
	MetricDecisionDuration = "auth.decision.duration_ms"
	MetricKeySetRefreshes  = "auth.jwks.refreshes"
	MetricKeySetKeys       = "auth.jwks.keys"
	MetricKeySetDuration   = "auth.jwks.refresh.duration_ms"
)

// Metrics records authorization and key set metrics.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: implementations must not panic.
type Metrics interface {
	// RecordDecision counts one guard decision. outcome is "allow" or a failure code.
	RecordDecision(ctx context.Context, permission, outcome string, duration time.Duration)

	// RecordKeySetRefresh counts one key set fetch. keys is the size of the
	// installed set, zero on failure.
	RecordKeySetRefresh(ctx context.Context, source, outcome string, keys int, duration time.Duration)
}

type metricsImpl struct {
	decisions       metric.Int64Counter
	decisionLatency metric.Float64Histogram
	refreshes       metric.Int64Counter
	refreshLatency  metric.Float64Histogram
	keys            metric.Int64Gauge
}

// NewMetrics registers gatekeeper's instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	decisions, err := meter.Int64Counter(
		MetricDecisions,
		metric.WithDescription("Authorization decisions by permission and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	decisionLatency, err := meter.Float64Histogram(
		MetricDecisionDuration,
		metric.WithDescription("Authorization decision latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	refreshes, err := meter.Int64Counter(
		MetricKeySetRefreshes,
		metric.WithDescription("Key set fetches by source and outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	refreshLatency, err := meter.Float64Histogram(
		MetricKeySetDuration,
		metric.WithDescription("Key set fetch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	keys, err := meter.Int64Gauge(
		MetricKeySetKeys,
		metric.WithDescription("Signing keys in the installed key set"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		decisions:       decisions,
		decisionLatency: decisionLatency,
		refreshes:       refreshes,
		refreshLatency:  refreshLatency,
		keys:            keys,
	}, nil
}

func (m *metricsImpl) RecordDecision(ctx context.Context, permission, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(
		AttrPermission.String(permission),
		AttrOutcome.String(outcome),
	)
	m.decisions.Add(ctx, 1, opt)
	m.decisionLatency.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

func (m *metricsImpl) RecordKeySetRefresh(ctx context.Context, source, outcome string, keys int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		AttrSource.String(source),
		AttrOutcome.String(outcome),
	}
	opt := metric.WithAttributes(attrs...)
	m.refreshes.Add(ctx, 1, opt)
	m.refreshLatency.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
	if keys > 0 {
		m.keys.Record(ctx, int64(keys))
	}
}

type noopMetrics struct{}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordDecision(context.Context, string, string, time.Duration) {}

func (noopMetrics) RecordKeySetRefresh(context.Context, string, string, int, time.Duration) {}
