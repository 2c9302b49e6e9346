package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tradeledger/backend/internal/infrastructure/config"
)

func TestSwaggerProtection(t *testing.T) {
	denyAll := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }

	tests := []struct {
		name       string
		cfg        config.SwaggerConfig
		remoteAddr string
		wantStatus int
	}{
		{"disabled", config.SwaggerConfig{Enabled: false}, "10.0.0.1:1234", http.StatusNotFound},
		{"open", config.SwaggerConfig{Enabled: true}, "10.0.0.1:1234", http.StatusOK},
		{"ip allowed", config.SwaggerConfig{Enabled: true, AllowedIPs: []string{"10.0.0.1"}}, "10.0.0.1:1234", http.StatusOK},
		{"cidr allowed", config.SwaggerConfig{Enabled: true, AllowedIPs: []string{"10.0.0.0/8"}}, "10.2.3.4:1234", http.StatusOK},
		{"ip rejected", config.SwaggerConfig{Enabled: true, AllowedIPs: []string{"10.0.0.0/8"}}, "192.168.1.5:1234", http.StatusForbidden},
		{"auth required", config.SwaggerConfig{Enabled: true, RequireAuth: true}, "10.0.0.1:1234", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/swagger/*any", SwaggerProtection(tt.cfg, denyAll), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
