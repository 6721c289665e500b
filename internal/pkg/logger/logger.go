package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger starts as a no-op so packages can log before Setup (and in tests).
var logger = zap.NewNop().Sugar()

const (
	TraceIDKey = "traceid"
	SpanIDKey  = "spanid"
)

type ctxKey string

const (
	ctxTraceID ctxKey = "traceid"
	ctxSpanID  ctxKey = "spanid"
)

// Setup builds the production JSON logger at the given level ("debug",
// "info", "warn", "error"; empty means info).
func Setup(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	logger = l.Sugar()
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger.Sync()
}

// WithTraceID returns a new context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxTraceID, traceID)
}

// WithSpanID returns a new context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, ctxSpanID, spanID)
}

// TraceIDFromContext extracts the trace ID from context or OpenTelemetry span.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTraceID).(string); ok {
		return v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext extracts the span ID from context or OpenTelemetry span.
func SpanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxSpanID).(string); ok {
		return v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

func withContext(ctx context.Context) *zap.SugaredLogger {
	return logger.With(
		zap.String(TraceIDKey, TraceIDFromContext(ctx)),
		zap.String(SpanIDKey, SpanIDFromContext(ctx)),
	)
}

// DebugCtx logs a debug message with trace and span IDs from context.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	withContext(ctx).Debugf(msg, args...)
}

// InfoCtx logs an info message with trace and span IDs from context.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	withContext(ctx).Infof(msg, args...)
}

// WarnCtx logs a warning message with trace and span IDs from context.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	withContext(ctx).Warnf(msg, args...)
}

// ErrorCtx logs an error message with trace and span IDs from context.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	withContext(ctx).Errorf(msg, args...)
}

func Debug(msg string, args ...any) {
	logger.Debugf(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Infof(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warnf(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Errorf(msg, args...)
}

// Fatal logs and exits the process.
func Fatal(msg string, args ...any) {
	logger.Fatalf(msg, args...)
}
