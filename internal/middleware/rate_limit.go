package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/services"
	"github.com/coachconnect/booking-engine/internal/utils"
)

// RateLimiter counts a request against key
type RateLimiter interface {
	Check(ctx context.Context, key string) error
}

// RateLimit throttles requests per client IP, or per account when the
// caller is authenticated. Counter failures let the request through.
func RateLimit(limiter RateLimiter, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + utils.GetRealIP(c)
		if userCtx, ok := GetUserContext(c); ok {
			key = "account:" + strconv.FormatInt(userCtx.AccountID, 10)
		}

		err := limiter.Check(c.Request.Context(), key)
		if err == nil {
			c.Next()
			return
		}

		var rlErr *services.RateLimitError
		if errors.As(err, &rlErr) {
			retryAfter := int(time.Until(rlErr.RetryAfter).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"code":        "RATE_LIMIT_EXCEEDED",
				"message":     rlErr.Message,
				"retry_after": rlErr.RetryAfter,
			})
			c.Abort()
			return
		}

		logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable, allowing request")
		c.Next()
	}
}
