package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys set on every HTTP server span
const (
	SpanAttrRequestID      = "ledger.request_id"
	SpanAttrActorID        = "ledger.actor_id"
	SpanAttrIdempotencyKey = "ledger.idempotency_key"
)

// MaxIdempotencyKeyLength bounds the header value copied onto spans
const MaxIdempotencyKeyLength = 255

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
	// UntracedPrefixes are path prefixes that never start a span
	UntracedPrefixes []string
}

var defaultUntracedPrefixes = []string{"/health", "/swagger"}

// TracingWithConfig wraps otelgin; spans are named after the route pattern.
// Health probes and API docs are not traced unless UntracedPrefixes is set.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	prefixes := cfg.UntracedPrefixes
	if prefixes == nil {
		prefixes = defaultUntracedPrefixes
	}
	return otelgin.Middleware(cfg.ServiceName, otelgin.WithFilter(func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return false
			}
		}
		return true
	}))
}

// TracingAttributeInjector copies request id, actor and idempotency key onto
// the server span. It runs after RequestID and JWT authentication.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			span.SetAttributes(requestSpanAttributes(c)...)
		}
		c.Next()
	}
}

func requestSpanAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := GetRequestID(c); id != "" {
		attrs = append(attrs, attribute.String(SpanAttrRequestID, id))
	}
	if actor := c.GetString(logger.GinActorKey); actor != "" {
		attrs = append(attrs, attribute.String(SpanAttrActorID, actor))
	}
	if key := c.GetHeader(HeaderIdempotencyKey); key != "" && len(key) <= MaxIdempotencyKeyLength {
		attrs = append(attrs, attribute.String(SpanAttrIdempotencyKey, key))
	}
	return attrs
}

// SpanErrorMarker marks the span as failed for 5xx responses only. A 4xx such
// as insufficient balance is a business outcome, not a fault.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
