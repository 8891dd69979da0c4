package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs one line per request with the trace context the OTel
// middleware put on the request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
