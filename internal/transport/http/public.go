package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/service"
)

// PublicHandler 公开API处理器（无需认证）
type PublicHandler struct {
	relay config.RelayConfig
}

// NewPublicHandler 创建公开API处理器
func NewPublicHandler(relay config.RelayConfig) *PublicHandler {
	return &PublicHandler{relay: relay}
}

type publicLimitsResponse struct {
	limitsResponse
	MaxTTLDays       int64 `json:"max_ttl_days"`
	PollLimitDefault int   `json:"poll_limit_default"`
	PollLimitMax     int   `json:"poll_limit_max"`
	MaxRegisterBatch int   `json:"max_register_batch"`
	MaxAckBatch      int   `json:"max_ack_batch"`
	MaxRevokeBatch   int   `json:"max_revoke_batch"`
}

// GetLimits 返回服务端限制，客户端据此在投递前自检
func (h *PublicHandler) GetLimits(c *gin.Context) {
	ok(c, publicLimitsResponse{
		limitsResponse:   toLimitsResponse(service.LimitsFrom(h.relay)),
		MaxTTLDays:       int64(h.relay.MaxTTL / (24 * time.Hour)),
		PollLimitDefault: h.relay.PollLimitDefault,
		PollLimitMax:     h.relay.PollLimitMax,
		MaxRegisterBatch: domain.MaxRegisterBatch,
		MaxAckBatch:      domain.MaxAckBatch,
		MaxRevokeBatch:   domain.MaxRevokeBatch,
	})
}
