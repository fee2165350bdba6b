package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"coursebot/internal/logging"
	"coursebot/internal/observability"
	id "coursebot/internal/utils/id"
)

const logIDHeader = "X-Log-ID"

// observabilityMiddleware tags each request with a log id, wraps it in a span
// and logs its latency once the route has been resolved.
func observabilityMiddleware(tracer *observability.TracerProvider, logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if incoming := c.GetHeader(logIDHeader); incoming != "" {
			ctx = id.WithLogID(ctx, incoming)
		}
		ctx, logID := id.EnsureLogID(ctx, id.NewLogID)
		c.Header(logIDHeader, logID)

		ctx, span := tracer.StartSpan(ctx, observability.SpanHTTPRequest,
			attribute.String("http.method", c.Request.Method),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		observability.EndSpan(span, err)

		logging.FromContext(ctx, logger).Info(
			"route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
			route,
			c.Request.Method,
			status,
			float64(time.Since(start).Microseconds())/1000.0,
			c.Writer.Size(),
		)
	}
}

// jsonMiddleware rejects bodies that are not JSON.
func jsonMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			contentType := c.ContentType()
			if contentType != "" && contentType != "application/json" {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, errorBody("Content-Type must be application/json"))
				return
			}
		}
		c.Next()
	}
}
