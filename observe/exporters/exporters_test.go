package exporters

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestNewTracingExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	tests := []struct {
		name    string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantNil: true, wantErr: ErrEndpointNotConfigured},
		{name: "zipkin", wantNil: true, wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := NewTracingExporter(context.Background(), tt.name, Options{Writer: &bytes.Buffer{}})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("NewTracingExporter(%q) error = %v", tt.name, err)
			}
			if (exp == nil) != tt.wantNil {
				t.Errorf("exporter nil = %v, want %v", exp == nil, tt.wantNil)
			}
		})
	}
}

func TestNewTracingExporter_OTLPWithEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	exp, err := NewTracingExporter(context.Background(), "otlp", Options{})
	if err != nil {
		t.Fatalf("NewTracingExporter(otlp) error = %v", err)
	}
	if exp == nil {
		t.Fatal("expected non-nil exporter")
	}
	_ = exp.Shutdown(context.Background())
}

func TestNewMetricsReader(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	tests := []struct {
		name    string
		wantErr error
	}{
		{name: "stdout"},
		{name: "none"},
		{name: ""},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "statsd", wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewMetricsReader(context.Background(), tt.name, Options{Writer: &bytes.Buffer{}})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMetricsReader(%q) error = %v", tt.name, err)
			}
			if reader == nil {
				t.Fatal("expected non-nil reader")
			}
		})
	}
}
