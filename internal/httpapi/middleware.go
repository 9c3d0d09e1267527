package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/logging"
	"github.com/septivank/meter-reading-service/internal/metrics"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// requestContext assigns a request id and stores a request-scoped logger
// in the request context
func requestContext(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		reqLogger := logging.WithRequestID(logger, requestID)
		c.Request = c.Request.WithContext(logging.IntoContext(c.Request.Context(), reqLogger))

		c.Next()
	}
}

// accessLog writes one line per request and counts it
func accessLog(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status))

		logging.FromContext(c.Request.Context(), logger).Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// recovery turns a panic into a logged INTERNAL_ERROR response
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.FromContext(c.Request.Context(), logger).Error("panic recovered",
			zap.Any("panic", recovered),
			zap.Stack("stack"),
		)
		writeError(c, logger, apperr.New(apperr.KindInternal, "panic: %v", recovered))
	})
}
