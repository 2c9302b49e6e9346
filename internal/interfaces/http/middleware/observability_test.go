package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHTTPMetricsWithMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	router := gin.New()
	router.Use(HTTPMetricsWithMeter(provider.Meter("test")))
	router.GET("/api/v1/accounts/:id/balance", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/accounts/abc/balance", nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_server_request_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(telemetry.AttrHTTPRoute)
				assert.Equal(t, "/api/v1/accounts/:id/balance", route.AsString())
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestHTTPMetrics_DisabledIsPassThrough(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMetrics(HTTPMetricsConfig{Enabled: false}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(201))
	assert.Equal(t, "4xx", StatusClass(422))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "other", StatusClass(101))
	assert.Equal(t, "other", StatusClass(0))
}

func TestTracing_SpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	router := gin.New()
	router.Use(RequestID(), TracingWithConfig(TracingConfig{ServiceName: "ledger-test", Enabled: true}), SpanErrorMarker(), TracingAttributeInjector())
	router.POST("/api/v1/transactions", func(c *gin.Context) { c.Status(http.StatusCreated) })
	router.POST("/api/v1/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil)
	req.Header.Set(HeaderRequestID, "req-9")
	req.Header.Set(HeaderIdempotencyKey, "dep-1")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/broken", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2, "health probes are not traced")

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "req-9", attrs[SpanAttrRequestID].AsString())
	assert.Equal(t, "dep-1", attrs[SpanAttrIdempotencyKey].AsString())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestProfilingLabels(t *testing.T) {
	svc := newTestJWTService(time.Minute)
	token := issueToken(t, svc, "ops-1", auth.RoleAdmin)

	var labels map[string]string
	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.GET("/api/v1/accounts/:id/entries", func(c *gin.Context) {
		labels = profilingLabels(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/abc/entries", nil)
	req.Header.Set(AuthHeaderKey, "Bearer "+token)
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "accounts", labels[telemetry.ProfilingLabelController])
	assert.Equal(t, "/api/v1/accounts/:id/entries", labels[telemetry.ProfilingLabelRoute])
	assert.Equal(t, http.MethodGet, labels[telemetry.ProfilingLabelMethod])
	assert.Equal(t, "admin", labels[telemetry.ProfilingLabelActorType])
}

func TestControllerFromRoute(t *testing.T) {
	tests := map[string]string{
		"/api/v1/accounts/:id/balance": "accounts",
		"/api/v1/reconciliations":      "reconciliations",
		"/api/V2/orders/:id/cancel":    "orders",
		"/health":                      "health",
		"/v1x/probe":                   "v1x",
		"":                             "",
	}
	for route, want := range tests {
		assert.Equal(t, want, controllerFromRoute(route), route)
	}
}
