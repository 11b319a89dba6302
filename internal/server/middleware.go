package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"go.uber.org/zap"
)

// BeaconRateLimit throttles tracking calls per client address. Limiter
// errors fail open.
func (s *Server) BeaconRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.limiter.AllowIP(ctx, c.ClientIP())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("beacon rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			s.metrics.RecordRateLimited()
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
