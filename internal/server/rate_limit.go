package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicer/internal/observability/logger"
	"go.uber.org/zap"
)

// CheckoutRateLimit guards routes that call the payment provider. Redis
// errors fail closed so a broken limiter cannot be used to flood the provider.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		invoiceID := strings.TrimSpace(c.Param("id"))
		if invoiceID == "" {
			invoiceID = strings.TrimSpace(c.Query("invoice_id"))
		}

		decision, err := s.checkoutLimiter.Allow(ctx, c.ClientIP(), invoiceID)
		if err != nil {
			logger.FromContext(ctx).Warn("checkout rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !decision.Allowed {
			endpoint := normalizeRateLimitEndpoint(c)
			logger.FromContext(ctx).Warn("checkout rate limit exceeded",
				zap.String("reason", decision.Reason),
				zap.String("endpoint", endpoint),
				zap.Duration("retry_after", decision.RetryAfter),
			)
			s.obsMetrics.RecordRateLimited(ctx, endpoint, decision.Reason)

			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			c.Header("X-Rate-Limited-Reason", decision.Reason)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

// retryAfterSeconds rounds up and never advertises less than one second.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Max(1, math.Ceil(d.Seconds())))
}
