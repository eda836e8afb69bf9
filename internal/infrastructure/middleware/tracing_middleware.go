package middleware

import (
	"time"

	logging "rtclink/pkg/logger"
	"rtclink/pkg/tracing"
	"rtclink/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// TracingMiddleware opens a span per request and stamps the request id and
// any session, connection or stream named in the route onto the request
// context, so span attributes and context logs agree.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)
		ctx = logging.WithRequestID(ctx, requestID)

		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		if id := c.Param("id"); id != "" {
			span.SetAttributes(tracing.SessionIDKey.String(id))
			ctx = logging.WithSessionID(ctx, id)
		}
		if id := c.Param("connection_id"); id != "" {
			span.SetAttributes(tracing.ConnectionIDKey.String(id))
			ctx = logging.WithConnectionID(ctx, id)
		}
		if id := c.Param("stream_id"); id != "" {
			span.SetAttributes(tracing.StreamIDKey.String(id))
		}
		if id := c.Param("archive_id"); id != "" {
			span.SetAttributes(attribute.String("archive.id", id))
		}

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
