package server

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

// Recovery turns a handler panic into a 500 and logs it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("http: panic %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// RequestTelemetry emits an http_request event after each request. Best-effort: emit failures
// are logged and never affect the response. skipPaths are route paths not reported (e.g. probes).
func RequestTelemetry(emitter telemetry.EventEmitter, skipPaths map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if emitter == nil || skipPaths[route] {
			return
		}
		userID, _ := strconv.ParseInt(c.Param("user_id"), 10, 64)
		telemetry.EmitAsync(emitter, c.Request.Context(), telemetrydomain.New(userID, telemetrydomain.EventHTTPRequest, map[string]any{
			"method":      c.Request.Method,
			"route":       route,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}))
	}
}
