package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"deaddrop/backend/internal/domain"
)

// JSONBodyLimit JSON 接口的请求体上限
const JSONBodyLimit = 1 << 20 // 1MB

// BodySizeLimit 限制请求体大小的中间件
//
// Content-Length 已超限时直接拒绝；否则包装请求体，读取越界时由处理器通过 IsBodyTooLarge 识别。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			_ = c.Error(fmt.Errorf("content length %d exceeds %d: %w", c.Request.ContentLength, maxBytes, domain.ErrPayloadTooLarge))
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}

// IsBodyTooLarge 判断读取请求体的错误是否由大小限制触发
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
