package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

type rateAllower interface {
	Allow(ctx context.Context, category, identity string) service.RateDecision
}

// RateLimit throttles requests per client IP within one operation category.
func RateLimit(limiter rateAllower, category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		decision := limiter.Allow(c.Request.Context(), category, c.ClientIP())
		if decision.Limited {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.Abort(c, appErrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
