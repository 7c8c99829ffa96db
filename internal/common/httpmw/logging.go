// Package httpmw provides gin middleware for the HTTP transport.
package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
)

// RequestLogger logs one line per request after the handler runs. JSON-RPC
// application errors travel inside 200 responses, so a non-2xx status here
// is a transport-level failure: bad content type, oversized body, a panic
// caught by Recovery.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client", c.ClientIP()),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
