package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	d := rl.Allow("a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d = rl.Allow("a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d = rl.Allow("a")
	assert.False(t, d.Allowed, "bucket is empty")
	assert.Equal(t, 30*time.Second, d.RetryAfter, "one token refills every window/limit")

	assert.True(t, rl.Allow("b").Allowed, "keys are independent")

	now = now.Add(30 * time.Second)
	d = rl.Allow("a")
	assert.True(t, d.Allowed, "the rejected call did not consume a token")
	assert.Equal(t, 0, d.Remaining)

	now = now.Add(time.Minute)
	d = rl.Allow("a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining, "a bucket never holds more than limit")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("idle")
	rl.Allow("busy")

	now = now.Add(3 * time.Second)
	rl.Allow("busy")
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "busy")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 30, retryAfterSeconds(30*time.Second))
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	router := gin.New()
	router.Use(RequestID(), func(c *gin.Context) {
		if actor := c.GetHeader("X-Test-Actor"); actor != "" {
			c.Set(logger.GinActorKey, actor)
		}
	}, RateLimit(rl))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if actor != "" {
			req.Header.Set("X-Test-Actor", actor)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send("ops-1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	limited := send("ops-1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, dto.ErrCodeRateLimited, decodeError(t, limited).Code)

	assert.Equal(t, http.StatusOK, send("ops-2").Code, "other actor has its own bucket")
	assert.Equal(t, http.StatusOK, send("").Code, "anonymous callers are keyed by IP")
}
