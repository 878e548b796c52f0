package observe

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GinMiddleware records request duration to m.HTTPRequestDuration and logs
// completion via log/slog, adapted from MrWong99-glyphoxa's
// statusRecorder-wrapped net/http middleware to gin's own ResponseWriter
// (which already tracks the status code, so no wrapper type is needed
// here).
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		m.HTTPRequestDuration.Record(c.Request.Context(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", c.Request.Method),
				attribute.String("path", c.FullPath()),
			),
		)

		slog.LogAttrs(c.Request.Context(), slog.LevelInfo, "http request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", duration),
		)
	}
}
