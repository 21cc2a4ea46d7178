package middleware

import (
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/apierror"
)

func newLimiter(rl config.RateLimitConfig) *limiter.Limiter {
	lmt := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Duration(*rl.CleanupIntervalSec) * time.Second,
	})
	lmt.SetBurst(*rl.Burst)
	return lmt
}

// RateLimitMiddleware throttles each client IP to the configured rate. Without
// a rate and burst it lets everything through.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	rl := conf.RateLimit
	if rl.RequestsPerSecond == nil || rl.Burst == nil || rl.CleanupIntervalSec == nil {
		return func(c *gin.Context) { c.Next() }
	}

	lmt := newLimiter(rl)
	return func(c *gin.Context) {
		if limited := tollbooth.LimitByKeys(lmt, []string{c.ClientIP()}); limited != nil {
			c.AbortWithStatusJSON(limited.StatusCode, apierror.APIError{
				Code:    apierror.ErrTooManyRequests,
				Message: limited.Message,
			})
			return
		}
		c.Next()
	}
}
