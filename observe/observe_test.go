package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid",
			cfg: Config{
				ServiceName: "gatekeeper",
				Tracing:     TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 1},
				Metrics:     MetricsConfig{Enabled: true, Exporter: "prometheus"},
				Logging:     LoggingConfig{Enabled: true, Level: "debug"},
			},
		},
		{
			name:    "missing service name",
			cfg:     Config{},
			wantErr: ErrMissingServiceName,
		},
		{
			name:    "unknown tracing exporter",
			cfg:     Config{ServiceName: "s", Tracing: TracingConfig{Enabled: true, Exporter: "jaeger"}},
			wantErr: ErrInvalidTracingExporter,
		},
		{
			name:    "sample pct out of range",
			cfg:     Config{ServiceName: "s", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}},
			wantErr: ErrInvalidSamplePct,
		},
		{
			name:    "unknown metrics exporter",
			cfg:     Config{ServiceName: "s", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}},
			wantErr: ErrInvalidMetricsExporter,
		},
		{
			name:    "unknown log level",
			cfg:     Config{ServiceName: "s", Logging: LoggingConfig{Enabled: true, Level: "trace"}},
			wantErr: ErrInvalidLogLevel,
		},
		{
			name: "disabled subsystems are not validated",
			cfg: Config{
				ServiceName: "s",
				Tracing:     TracingConfig{Exporter: "bogus"},
				Metrics:     MetricsConfig{Exporter: "bogus"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewObserver_Disabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "gatekeeper-test"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer obs.Shutdown(context.Background())

	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil {
		t.Fatal("expected non-nil tracer, meter and logger")
	}
	if _, ok := obs.Logger().(noopLogger); !ok {
		t.Errorf("Logger() = %T, want noopLogger", obs.Logger())
	}
}

func TestNewObserver_InvalidConfig(t *testing.T) {
	_, err := NewObserver(context.Background(), Config{})
	if !errors.Is(err, ErrMissingServiceName) {
		t.Fatalf("NewObserver() error = %v, want %v", err, ErrMissingServiceName)
	}
}

func TestNewObserver_Enabled(t *testing.T) {
	var out bytes.Buffer
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "gatekeeper-test",
		Version:     "0.0.1",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: true, Level: "info"},
		Output:      &out,
	})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}

	obs.Logger().Info(context.Background(), "hello")
	if !strings.Contains(out.String(), `"service":"gatekeeper-test"`) {
		t.Errorf("log output missing service field: %s", out.String())
	}

	inst, err := NewInstrumentation(obs)
	if err != nil {
		t.Fatalf("NewInstrumentation() error = %v", err)
	}
	inst.Metrics.RecordDecision(context.Background(), "get:actors", OutcomeAllow, 0)

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
