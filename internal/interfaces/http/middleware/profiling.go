package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
}

// ProfilingWithConfig runs the rest of the chain under Pyroscope labels for
// controller, route, method and actor type, so CPU and allocation profiles
// can be split per endpoint. It belongs after JWT authentication.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	return func(c *gin.Context) {
		telemetry.WithProfilingLabels(c.Request.Context(), profilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	route := c.FullPath()
	labels := telemetry.HTTPRequestLabels(controllerFromRoute(route), route, c.Request.Method)
	actorType := "anonymous"
	if actor, ok := GetActor(c); ok {
		actorType = strings.ToLower(string(actor.Type))
	}
	labels[telemetry.ProfilingLabelActorType] = actorType
	return labels
}

// controllerFromRoute picks the first literal segment after the /api/vN
// prefix: "/api/v1/accounts/:id/entries" yields "accounts".
func controllerFromRoute(route string) string {
	for part := range strings.SplitSeq(route, "/") {
		switch {
		case part == "", part == "api", strings.HasPrefix(part, ":"), isVersionSegment(part):
			continue
		}
		return part
	}
	return ""
}

func isVersionSegment(segment string) bool {
	rest, ok := strings.CutPrefix(strings.ToLower(segment), "v")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseUint(rest, 10, 16)
	return err == nil
}
