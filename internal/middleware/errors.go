package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deaddrop/backend/internal/domain"
)

// Renderer 把错误写成响应，由传输层提供
type Renderer func(c *gin.Context, err error)

// ErrorHandler 统一错误处理中间件
//
// 处理器和其他中间件只通过 c.Error 上报错误，这里在请求结束后渲染最后一个错误。
// 注册在 PanicRecovery 之外，请求日志和指标之内，这样它们能看到最终状态码。
func ErrorHandler(render Renderer, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if kind := domain.KindOf(err); kind == domain.KindServerError {
			log.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.String("mailbox_id", c.Param("mailbox_id")),
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(err),
			)
		} else {
			log.Debug("request rejected",
				zap.String("path", c.FullPath()),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
		}

		if !c.Writer.Written() {
			render(c, err)
		}
	}
}
