package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
)

// Keys later handlers set so the access log can say what happened to the request
const (
	GateReasonKey = "gate_reason"
	UpstreamKey   = "upstream"
)

// Logger writes one access log line per request once the chain has finished.
// Paths in skipPaths are not logged.
func Logger(log *logger.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		// The gate may rewrite the path, log what the client asked for
		path, query := c.Request.URL.Path, c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("body_size", c.Writer.Size()),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		fields = appendIfSet(c, fields, GateReasonKey, UpstreamKey)
		if location := c.Writer.Header().Get("Location"); location != "" {
			fields = append(fields, zap.String("location", location))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("Server error", fields...)
		case status >= 400:
			l.Warn("Client error", fields...)
		default:
			l.Info("Request completed", fields...)
		}
	}
}

func appendIfSet(c *gin.Context, fields []zap.Field, keys ...string) []zap.Field {
	for _, key := range keys {
		if v := c.GetString(key); v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	return fields
}
