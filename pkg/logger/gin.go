package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ginKey          = "logger"
	requestIDHeader = "X-Request-Id"
)

// Middleware tags every request with a request id, installs a scoped logger
// for FromGin, and writes one summary line per request.
func Middleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)

		scoped := base.With(slog.String("request_id", rid))
		c.Set(ginKey, scoped)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			scoped.Error("request", append(attrs, slog.String("errors", c.Errors.String()))...)
			return
		}
		scoped.Info("request", attrs...)
	}
}

// FromGin returns the request-scoped logger installed by Middleware, falling
// back to slog.Default() outside of it.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
