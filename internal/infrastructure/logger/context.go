package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

// Correlation values carried on a request context. Each one is also the
// log field name it is written under.
const (
	LoggerKey         contextKey = "logger"
	RequestIDKey      contextKey = "request_id"
	ActorKey          contextKey = "actor" // "<type>:<id>"
	IdempotencyKeyKey contextKey = "idempotency_key"
)

var correlationKeys = []contextKey{RequestIDKey, ActorKey, IdempotencyKeyKey}

func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext returns the logger stored by WithContext, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return tag(ctx, logger, RequestIDKey, requestID)
}

func WithActor(ctx context.Context, logger *zap.Logger, actor string) (context.Context, *zap.Logger) {
	return tag(ctx, logger, ActorKey, actor)
}

func WithIdempotencyKey(ctx context.Context, logger *zap.Logger, key string) (context.Context, *zap.Logger) {
	return tag(ctx, logger, IdempotencyKeyKey, key)
}

// tag stores value under key and swaps in a logger that carries it as a field.
func tag(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	tagged := logger.With(zap.String(string(key), value))
	return WithContext(context.WithValue(ctx, key, value), tagged), tagged
}

func GetRequestID(ctx context.Context) string      { return lookup(ctx, RequestIDKey) }
func GetActor(ctx context.Context) string          { return lookup(ctx, ActorKey) }
func GetIdempotencyKey(ctx context.Context) string { return lookup(ctx, IdempotencyKeyKey) }

func lookup(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// traceFields returns trace_id and span_id when ctx carries a valid span.
func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.Stringer("trace_id", sc.TraceID()),
		zap.Stringer("span_id", sc.SpanID()),
	}
}

// ContextFields collects every correlation value present in ctx, for loggers
// that were not built from the request logger.
func ContextFields(ctx context.Context) []zap.Field {
	fields := traceFields(ctx)
	for _, key := range correlationKeys {
		if v := lookup(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}
