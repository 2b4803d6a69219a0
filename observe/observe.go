package observe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/gatekeeper/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string
	Version     string
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig

	// Output receives stdout exporter data and log lines. Default: os.Stdout
	// for exporters, os.Stderr for logs.
	Output io.Writer
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool
	Exporter  string  // otlp|stdout|none
	SamplePct float64 // 0.0-1.0
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool
	Exporter string // otlp|prometheus|stdout|none
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool
	Level   string // debug|info|warn|error
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.Tracing.Enabled {
		if !contains(ValidTracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w: got %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
	}

	if c.Metrics.Enabled && !contains(ValidMetricsExporters, c.Metrics.Exporter) {
		return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
	}

	if c.Logging.Enabled && !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return nil
}

// Observer provides access to telemetry primitives.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Shutdown must honor cancellation/deadlines.
//   - Errors: Shutdown should be idempotent and return the first error encountered.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger

	// Shutdown flushes and stops the telemetry providers.
	Shutdown(ctx context.Context) error
}

// Logger is a minimal structured logging interface.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: logging must be best-effort and must not panic.
//   - Redaction: values of keys listed in RedactedFields are never written.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	logger         Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewObserver creates a new Observer with the given configuration.
// The SDK providers are installed as the otel globals.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs := &observer{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	expOpts := exporters.Options{Writer: cfg.Output}

	if cfg.Tracing.Enabled {
		tp, err := setupTracing(ctx, cfg, res, expOpts)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tracer = tp.Tracer(cfg.ServiceName)
	} else {
		obs.tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}

	if cfg.Metrics.Enabled {
		mp, err := setupMetrics(ctx, cfg, res, expOpts)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("setup metrics: %w", err)
		}
		obs.meterProvider = mp
		obs.meter = mp.Meter(cfg.ServiceName)
	} else {
		obs.meter = noop.NewMeterProvider().Meter("noop")
	}

	if cfg.Logging.Enabled {
		if cfg.Output != nil {
			obs.logger = NewLoggerWithWriter(cfg.Logging.Level, cfg.Output)
		} else {
			obs.logger = NewLogger(cfg.Logging.Level)
		}
		obs.logger = obs.logger.With(F("service", cfg.ServiceName))
	} else {
		obs.logger = NoopLogger()
	}

	return obs, nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource, expOpts exporters.Options) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, expOpts)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.Tracing.SamplePct >= MaxSamplePct:
		sampler = sdktrace.AlwaysSample()
	case cfg.Tracing.SamplePct <= MinSamplePct:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource, expOpts exporters.Options) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, expOpts)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }

func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	if l, ok := o.logger.(interface{ Sync() error }); ok {
		_ = l.Sync()
	}

	return errors.Join(errs...)
}
