package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/utils"
)

// RequestIDHeader carries the correlation id in requests and responses
const RequestIDHeader = "X-Request-ID"

// RequestMeta tags every request with a correlation id and attaches the
// client address and user agent to the request context for audit entries
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)

		ctx := utils.WithRequestMeta(c.Request.Context(), utils.RequestMeta{
			RequestID: requestID,
			IP:        utils.GetRealIP(c),
			UserAgent: utils.GetUserAgent(c),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  utils.GetRealIP(c),
		}
		if id, ok := c.Get("request_id"); ok {
			fields["request_id"] = id
		}

		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}
