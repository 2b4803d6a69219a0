// Package exporters builds the OpenTelemetry span exporters and metric
// readers selected by name in gatekeeper's configuration.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter is returned for an exporter name outside the supported set.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured is returned when otlp is selected without an endpoint.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Options tunes exporter construction.
type Options struct {
	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// endpointFromEnv returns the first non-empty variable, in order.
func endpointFromEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// NewTracingExporter creates a span exporter.
// Supported names: stdout, otlp, none (or empty).
//
// "none" returns a nil exporter; the caller builds a provider without a
// batcher so spans are still created for in-process propagation.
func NewTracingExporter(ctx context.Context, name string, opts Options) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(opts.writer()))

	case "otlp":
		if endpointFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ErrEndpointNotConfigured)
		}
		return otlptracegrpc.New(ctx)

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: tracing %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates a metric reader.
// Supported names: stdout, otlp, prometheus, none (or empty).
//
// The prometheus reader registers with the default Prometheus registerer,
// so promhttp.Handler() serves it.
func NewMetricsReader(ctx context.Context, name string, opts Options) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.writer()))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		if endpointFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", ErrEndpointNotConfigured)
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exp, nil

	case "none", "":
		return sdkmetric.NewManualReader(), nil

	default:
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, name)
	}
}
