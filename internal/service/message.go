package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deaddrop/backend/internal/auth"
	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/cursor"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/storage"
)

// MessageService 封装消息的投递、拉取与确认。
type MessageService struct {
	guard
	cursors *cursor.Codec
	relay   config.RelayConfig
	metrics *monitoring.Metrics
}

// NewMessageService 创建消息业务服务。metrics 可为 nil。
func NewMessageService(store storage.Store, authority *auth.Authority, cursors *cursor.Codec, relay config.RelayConfig, metrics *monitoring.Metrics) *MessageService {
	return &MessageService{
		guard:   guard{store: store, authority: authority, now: time.Now},
		cursors: cursors,
		relay:   relay,
		metrics: metrics,
	}
}

// SetClock 替换时间来源，测试使用
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

// DepositInput 投递请求
type DepositInput struct {
	MailboxID     string
	Authorization string
	// MsgID X-Whisper-MsgId 头，base64url
	MsgID string
	// ExpiresAt X-Whisper-ExpiresAt 头，unix 秒；为空或无法解析时视为未指定
	ExpiresAt string
	Body      []byte
}

// DepositResult 投递成功的结果
type DepositResult struct {
	MsgID     string
	ExpiresAt int64
}

// Deposit 投递一条消息，按顺序校验：大小、凭证、投递箱、令牌、过期时间、配额、消息 ID，最后写入。
func (s *MessageService) Deposit(ctx context.Context, in DepositInput) (_ *DepositResult, err error) {
	defer func() {
		if err != nil {
			s.metrics.RecordDepositRejected(domain.KindOf(err).String())
		}
	}()

	if len(in.Body) > s.relay.MaxMessageBytes {
		return nil, fmt.Errorf("body of %d bytes exceeds %d: %w", len(in.Body), s.relay.MaxMessageBytes, domain.ErrPayloadTooLarge)
	}

	if err := s.authenticateDeposit(ctx, in.MailboxID, in.Authorization); err != nil {
		return nil, err
	}

	now := s.unixNow()
	expiresAt, err := s.resolveExpiry(now, in.ExpiresAt)
	if err != nil {
		return nil, err
	}

	used, err := s.store.QueueBytes(ctx, in.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("queue bytes: %w", err)
	}
	if used+int64(len(in.Body)) > s.relay.MaxQueueBytes {
		return nil, fmt.Errorf("mailbox queue quota exceeded: %w", domain.ErrRateLimited)
	}

	msgID, err := auth.Decode(strings.TrimSpace(in.MsgID))
	if err != nil {
		return nil, fmt.Errorf("msg id: %w", err)
	}
	if err := domain.ValidateMsgID(msgID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		MailboxID:  in.MailboxID,
		MsgID:      msgID,
		Blob:       in.Body,
		ReceivedAt: now,
		ExpiresAt:  expiresAt,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			return nil, fmt.Errorf("msg id already stored: %w", domain.ErrConflict)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.metrics.RecordMessageDeposited(len(in.Body))

	return &DepositResult{
		MsgID:     auth.Encode(msgID),
		ExpiresAt: expiresAt,
	}, nil
}

// resolveExpiry 计算过期时间：请求值截断到 now+max_ttl，未指定时为 now+default_ttl
func (s *MessageService) resolveExpiry(now int64, requested string) (int64, error) {
	maxExpiry := now + int64(s.relay.MaxTTL/time.Second)

	expiresAt := now + int64(s.relay.DefaultTTL/time.Second)
	if v, err := strconv.ParseInt(strings.TrimSpace(requested), 10, 64); err == nil {
		expiresAt = min(v, maxExpiry)
	}

	if expiresAt <= now {
		return 0, fmt.Errorf("expires_at %d is not in the future: %w", expiresAt, domain.ErrInvalidInput)
	}
	return expiresAt, nil
}

// PollInput 拉取请求，Cursor 和 Limit 为 nil 表示未提供
type PollInput struct {
	MailboxID     string
	Authorization string
	Cursor        *string
	Limit         *string
}

// PollResult 拉取结果
type PollResult struct {
	Cursor   string
	Messages []domain.Message
}

// Poll 按到达顺序返回水位之后尚未过期的消息。拉取不删除任何消息。
func (s *MessageService) Poll(ctx context.Context, in PollInput) (*PollResult, error) {
	if _, err := s.authenticatePoll(ctx, in.MailboxID, in.Authorization); err != nil {
		return nil, err
	}

	watermark, err := s.cursors.Resolve(in.MailboxID, in.Cursor)
	if err != nil {
		return nil, err
	}

	limit, err := s.resolveLimit(in.Limit)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessagesAfter(ctx, in.MailboxID, watermark, s.unixNow(), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	last := watermark
	if n := len(msgs); n > 0 {
		last = msgs[n-1].SequenceID
	}

	s.metrics.RecordMessagesPolled(len(msgs))

	return &PollResult{
		Cursor:   s.cursors.Encode(in.MailboxID, last),
		Messages: msgs,
	}, nil
}

// resolveLimit 解析 limit 并截断到 [1, poll_limit_max]
func (s *MessageService) resolveLimit(text *string) (int, error) {
	if text == nil {
		return clamp(int64(s.relay.PollLimitDefault), 1, int64(s.relay.PollLimitMax)), nil
	}
	v, err := strconv.ParseInt(*text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("limit %q: %w", *text, domain.ErrInvalidInput)
	}
	return clamp(v, 1, int64(s.relay.PollLimitMax)), nil
}

func clamp(v, lo, hi int64) int {
	return int(max(lo, min(v, hi)))
}

// Ack 删除已处理的消息，返回实际删除的行数。
//
// 未匹配或已过期的 ID 不报错；某个 ID 编码错误时立即返回，之前的删除已经生效。
func (s *MessageService) Ack(ctx context.Context, mailboxID, authorization string, msgIDs []string) (int64, error) {
	if _, err := s.authenticatePoll(ctx, mailboxID, authorization); err != nil {
		return 0, err
	}
	if err := domain.ValidateBatchSize(len(msgIDs), domain.MaxAckBatch); err != nil {
		return 0, err
	}

	var deleted int64
	defer func() { s.metrics.RecordMessagesAcked(deleted) }()

	for i, text := range msgIDs {
		msgID, err := auth.Decode(text)
		if err != nil {
			return deleted, fmt.Errorf("msg id %d: %w", i, err)
		}

		n, err := s.store.DeleteMessage(ctx, mailboxID, msgID)
		if err != nil {
			return deleted, fmt.Errorf("delete message: %w", err)
		}
		deleted += n
	}

	return deleted, nil
}
