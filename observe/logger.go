package observe

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

var redactedKeys = func() map[string]struct{} {
	m := make(map[string]struct{}, len(RedactedFields))
	for _, k := range RedactedFields {
		m[k] = struct{}{}
	}
	return m
}()

func isRedactedField(key string) bool {
	_, ok := redactedKeys[strings.ToLower(key)]
	return ok
}

// ParseLogLevel maps a level name to a zap level. Unknown names map to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	z *zap.Logger
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.Lock(zapcore.AddSync(w)),
		ParseLogLevel(level),
	)
	return &zapLogger{z: zap.New(core)}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return NoopLogger()
	}
	return &zapLogger{z: z}
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

// Sync flushes buffered entries.
func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}

	zf := toZapFields(fields)
	if ctx != nil {
		if id := RequestIDFromContext(ctx); id != "" {
			zf = append(zf, zap.String("request_id", id))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			zf = append(zf,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}
	ce.Write(zf...)
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, redacted))
			continue
		}
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.String(f.Key, err.Error()))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

type noopLogger struct{}

// NoopLogger returns a logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) With(...Field) Logger                  { return l }

var (
	_ Logger = (*zapLogger)(nil)
	_ Logger = noopLogger{}
)
