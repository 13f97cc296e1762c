package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/ratelimit"
)

// Throttle 按客户端 IP 限制请求频率，limiter 为 nil 时不限流
//
// 限流器出错时放行。
func Throttle(limiter ratelimit.Limiter, scope string, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			log.Warn("rate limiter failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			metrics.RecordRateLimitBlock(scope)
			c.Header("Retry-After", "60")
			_ = c.Error(fmt.Errorf("too many %s requests: %w", scope, domain.ErrRateLimited))
			c.Abort()
			return
		}

		c.Next()
	}
}
