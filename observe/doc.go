// Package observe provides the telemetry used by gatekeeper: OpenTelemetry
// tracing and metrics, and a redacting structured logger backed by zap.
//
// Auth components take an *Instrumentation and never talk to the OTel SDK
// directly. Binaries build one from an Observer:
//
//	obs, err := observe.NewObserver(ctx, observe.Config{
//	    ServiceName: "gatekeeper",
//	    Tracing:     observe.TracingConfig{Enabled: true, Exporter: "otlp", SamplePct: 1},
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	})
//	inst, err := observe.NewInstrumentation(obs)
//
// Log values whose keys appear in RedactedFields are never written, so a
// bearer token passed as a "token" field cannot leak into logs.
package observe
