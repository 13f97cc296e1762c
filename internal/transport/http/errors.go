package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"deaddrop/backend/internal/domain"
)

// errorResponse 错误响应体
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor 错误分类到 HTTP 状态码的唯一映射
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// renderError 写出错误响应，只暴露分类文本
func renderError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	c.AbortWithStatusJSON(statusFor(kind), errorResponse{Error: kind.String()})
}
