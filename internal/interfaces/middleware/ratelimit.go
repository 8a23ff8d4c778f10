package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ratelimit"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"go.uber.org/zap"
)

// Throttle scopes.
const (
	ScopeAnon = "anon"
	ScopeUser = "user"
	ScopeAuth = "auth"
	ScopeBulk = "bulk"
)

// KeyFunc identifies the caller a throttle counts against.
type KeyFunc func(c *gin.Context) string

// ByIP counts per client address.
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByUser counts per authenticated user, falling back to the address.
func ByUser(c *gin.Context) string {
	if user := CurrentUser(c); user != nil {
		return "user:" + user.ID
	}
	return ByIP(c)
}

// Throttle rejects callers exceeding rate within scope with a 429. Limiter
// failures let the request through.
func Throttle(limiter ratelimit.Limiter, scope string, rate ratelimit.Rate, key KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), scope+":"+key(c), rate)
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		c.Header(constants.HeaderRateLimit, strconv.Itoa(res.Limit))
		c.Header(constants.HeaderRateRemaining, strconv.Itoa(res.Remaining))
		if !res.Allowed {
			metrics.RateLimited(scope)
			AbortWithError(c, appErrors.NewRateLimitError(scope, res.RetryAfter))
			return
		}
		c.Next()
	}
}
