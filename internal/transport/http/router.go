package httptransport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/health"
	"deaddrop/backend/internal/middleware"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/ratelimit"
	"deaddrop/backend/internal/service"
)

const (
	headerMsgID     = "X-Whisper-MsgId"
	headerExpiresAt = "X-Whisper-ExpiresAt"
)

// Handler 聚合投递箱相关的 HTTP 处理逻辑。
type Handler struct {
	mailboxes       *service.MailboxService
	messages        *service.MessageService
	maxMessageBytes int
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	HealthChecker  *health.HealthChecker
	Metrics        *monitoring.Metrics
	Limiter        ratelimit.Limiter // 为 nil 时不限流
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.ErrorHandler(renderError, log))
	router.Use(mm.PanicRecovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("no route for %s: %w", c.Request.URL.Path, domain.ErrNotFound))
	})

	handler := &Handler{
		mailboxes:       deps.MailboxService,
		messages:        deps.MessageService,
		maxMessageBytes: deps.Config.Relay.MaxMessageBytes,
	}
	publicHandler := NewPublicHandler(deps.Config.Relay)

	jsonLimit := middleware.BodySizeLimit(middleware.JSONBodyLimit)
	createThrottle := middleware.Throttle(deps.Limiter, "create_mailbox", deps.Metrics, log)
	depositThrottle := middleware.Throttle(deps.Limiter, "deposit", deps.Metrics, log)

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", gin.WrapF(deps.HealthChecker.StatusHandler))
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/public/limits", publicHandler.GetLimits)

		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", createThrottle, jsonLimit, handler.createMailbox)

			// 读取令牌
			mailboxRoutes.POST("/:mailbox_id/deposit-tokens", jsonLimit, handler.registerDepositTokens)
			mailboxRoutes.POST("/:mailbox_id/revoke", jsonLimit, handler.revokeDepositTokens)
			mailboxRoutes.GET("/:mailbox_id/poll", handler.poll)
			mailboxRoutes.POST("/:mailbox_id/ack", jsonLimit, handler.ack)

			// 投递令牌，请求体是原始消息，大小由投递流程检查
			mailboxRoutes.POST("/:mailbox_id/deposit", depositThrottle, handler.deposit)
		}
	}

	return router
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", headerMsgID, headerExpiresAt},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

// bindJSON 读取并解析 JSON 请求体，allowEmpty 时空请求体视为 {}
func bindJSON(c *gin.Context, dst any, allowEmpty bool) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			return fmt.Errorf("read body: %w", domain.ErrPayloadTooLarge)
		}
		return fmt.Errorf("read body: %w", domain.ErrInvalidInput)
	}
	if allowEmpty && len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := binding.JSON.BindBody(body, dst); err != nil {
		return fmt.Errorf("decode json: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := bindJSON(c, &req, true); err != nil {
		_ = c.Error(err)
		return
	}

	res, err := h.mailboxes.Create(c.Request.Context(), req.PollToken)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, createMailboxResponse{
		MailboxID: res.MailboxID,
		PollToken: res.PollToken,
		Limits:    toLimitsResponse(res.Limits),
	})
}

func (h *Handler) registerDepositTokens(c *gin.Context) {
	var req registerDepositTokensRequest
	if err := bindJSON(c, &req, false); err != nil {
		_ = c.Error(err)
		return
	}

	res, err := h.mailboxes.RegisterDepositTokens(c.Request.Context(), c.Param("mailbox_id"), c.GetHeader("Authorization"), req.DepositTokens)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, registerDepositTokensResponse{Added: res.Added, DepositTokenHashes: res.Hashes})
}

func (h *Handler) revokeDepositTokens(c *gin.Context) {
	var req revokeRequest
	if err := bindJSON(c, &req, false); err != nil {
		_ = c.Error(err)
		return
	}

	revoked, err := h.mailboxes.RevokeDepositTokens(c.Request.Context(), c.Param("mailbox_id"), c.GetHeader("Authorization"), req.DepositTokenHashes)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, revokeResponse{Revoked: revoked})
}

func (h *Handler) deposit(c *gin.Context) {
	// 多读一个字节，超限时交给投递流程判定
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(h.maxMessageBytes)+1))
	if err != nil {
		_ = c.Error(fmt.Errorf("read body: %w", domain.ErrInvalidInput))
		return
	}

	res, err := h.messages.Deposit(c.Request.Context(), service.DepositInput{
		MailboxID:     c.Param("mailbox_id"),
		Authorization: c.GetHeader("Authorization"),
		MsgID:         c.GetHeader(headerMsgID),
		ExpiresAt:     c.GetHeader(headerExpiresAt),
		Body:          body,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, depositResponse{Stored: true, MsgID: res.MsgID, ExpiresAt: res.ExpiresAt})
}

func (h *Handler) poll(c *gin.Context) {
	in := service.PollInput{
		MailboxID:     c.Param("mailbox_id"),
		Authorization: c.GetHeader("Authorization"),
	}
	if v, exists := c.GetQuery("cursor"); exists {
		in.Cursor = &v
	}
	if v, exists := c.GetQuery("limit"); exists {
		in.Limit = &v
	}

	res, err := h.messages.Poll(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, toPollResponse(res))
}

func (h *Handler) ack(c *gin.Context) {
	var req ackRequest
	if err := bindJSON(c, &req, false); err != nil {
		_ = c.Error(err)
		return
	}

	deleted, err := h.messages.Ack(c.Request.Context(), c.Param("mailbox_id"), c.GetHeader("Authorization"), req.MsgIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ok(c, ackResponse{Deleted: deleted})
}
