package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Limiter counts requests per subject inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error)
}

// RateLimit limits requests per authenticated user, or per client IP when
// the request is anonymous. Limiter failures let the request through.
func RateLimit(limiter Limiter, maxRequests int, window time.Duration) gin.HandlerFunc {
	if limiter == nil {
		panic("Limiter cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			subject = "user:" + userID
		}

		allowed, err := limiter.Allow(c.Request.Context(), subject, maxRequests, window)
		if err != nil {
			logrus.WithError(err).WithField("subject", subject).Error("RateLimit: limiter failed")
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", retryAfter(window))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// retryAfter renders window as whole seconds, rounded up so sub-second
// windows never advertise an immediate retry.
func retryAfter(window time.Duration) string {
	secs := int(math.Ceil(window.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
