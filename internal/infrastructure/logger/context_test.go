package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()), "falls back to a no-op logger")

	log, _ := observed()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}

func TestContextValues(t *testing.T) {
	base, logs := observed()
	ctx := context.Background()

	ctx, _ = WithRequestID(ctx, base, "req-1")
	ctx, _ = WithActor(ctx, FromContext(ctx), "user:7f6c")
	ctx, enriched := WithIdempotencyKey(ctx, FromContext(ctx), "idem-9")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "user:7f6c", GetActor(ctx))
	assert.Equal(t, "idem-9", GetIdempotencyKey(ctx))

	enriched.Info("hello")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user:7f6c", fields["actor"])
	assert.Equal(t, "idem-9", fields["idempotency_key"])
}

func TestGetters_Missing(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetActor(ctx))
	assert.Empty(t, GetIdempotencyKey(ctx))
	assert.Empty(t, ContextFields(ctx))
}

func TestContextFields(t *testing.T) {
	ctx := spanContext(t)
	ctx = context.WithValue(ctx, ActorKey, "system:scheduler")
	ctx = context.WithValue(ctx, RequestIDKey, "req-3")

	log, logs := observed()
	log.Info("traced", ContextFields(ctx)...)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, map[string]any{
		"trace_id":   "4bf92f3577b34da6a3ce929d0e0e4736",
		"span_id":    "00f067aa0ba902b7",
		"request_id": "req-3",
		"actor":      "system:scheduler",
	}, logs.All()[0].ContextMap())
}
