package service

import (
	"context"
	"fmt"
	"time"

	"deaddrop/backend/internal/auth"
	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/storage"
)

// Limits 对外公布的投递箱限制
type Limits struct {
	MaxMsgBytes   int
	MaxQueueBytes int64
	TTLDays       int64
}

// LimitsFrom 从中继配置计算公布的限制
func LimitsFrom(relay config.RelayConfig) Limits {
	return Limits{
		MaxMsgBytes:   relay.MaxMessageBytes,
		MaxQueueBytes: relay.MaxQueueBytes,
		TTLDays:       int64(relay.DefaultTTL / (24 * time.Hour)),
	}
}

// MailboxService 封装投递箱及投递令牌相关业务操作。
type MailboxService struct {
	guard
	relay   config.RelayConfig
	metrics *monitoring.Metrics
}

// NewMailboxService 创建投递箱业务服务。metrics 可为 nil。
func NewMailboxService(store storage.Store, authority *auth.Authority, relay config.RelayConfig, metrics *monitoring.Metrics) *MailboxService {
	return &MailboxService{
		guard:   guard{store: store, authority: authority, now: time.Now},
		relay:   relay,
		metrics: metrics,
	}
}

// SetClock 替换时间来源，测试使用
func (s *MailboxService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateMailboxResult 创建投递箱的结果
type CreateMailboxResult struct {
	MailboxID string
	// PollToken 服务端生成的读取令牌，只返回这一次；调用方自带令牌时为空
	PollToken string
	Limits    Limits
}

// Create 创建新的投递箱。
//
// pollToken 为调用方自带的读取令牌文本（委托持有），必须解码为 32 字节；
// 为 nil 时由服务端生成。
func (s *MailboxService) Create(ctx context.Context, pollToken *string) (*CreateMailboxResult, error) {
	var (
		raw      []byte
		returned string
		err      error
	)

	if pollToken != nil {
		raw, err = auth.Decode(*pollToken)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateTokenLength(raw); err != nil {
			return nil, err
		}
	} else {
		raw, returned, err = s.authority.NewToken()
		if err != nil {
			return nil, fmt.Errorf("generate poll token: %w", err)
		}
	}

	mailboxID, err := s.authority.NewMailboxID()
	if err != nil {
		return nil, fmt.Errorf("generate mailbox id: %w", err)
	}

	mailbox := &domain.Mailbox{
		MailboxID: mailboxID,
		PollHash:  s.authority.Digest(raw),
		CreatedAt: s.unixNow(),
	}
	if err := s.store.CreateMailbox(ctx, mailbox); err != nil {
		return nil, fmt.Errorf("create mailbox: %w", err)
	}

	s.metrics.RecordMailboxCreated()

	return &CreateMailboxResult{
		MailboxID: mailboxID,
		PollToken: returned,
		Limits:    LimitsFrom(s.relay),
	}, nil
}

// RegisterResult 登记投递令牌的结果
type RegisterResult struct {
	// Added 新插入的摘要数，已登记过的令牌不计入
	Added int64
	// Hashes 每个提交令牌的摘要文本，顺序与输入一致，吊销时使用
	Hashes []string
}

// RegisterDepositTokens 为投递箱登记一批投递令牌。
//
// 需要读取令牌。某个令牌格式错误时立即返回 InvalidInput，之前已登记的不会回滚。
func (s *MailboxService) RegisterDepositTokens(ctx context.Context, mailboxID, authorization string, tokens []string) (*RegisterResult, error) {
	if _, err := s.authenticatePoll(ctx, mailboxID, authorization); err != nil {
		return nil, err
	}
	if err := domain.ValidateBatchSize(len(tokens), domain.MaxRegisterBatch); err != nil {
		return nil, err
	}

	now := s.unixNow()
	result := &RegisterResult{Hashes: make([]string, 0, len(tokens))}

	// 出错时仍记录已经落库的数量
	defer func() { s.metrics.RecordDepositTokensRegistered(result.Added) }()

	for i, text := range tokens {
		raw, err := auth.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("deposit token %d: %w", i, err)
		}
		if err := domain.ValidateTokenLength(raw); err != nil {
			return nil, fmt.Errorf("deposit token %d: %w", i, err)
		}

		digest := s.authority.Digest(raw)
		added, err := s.store.AddDepositToken(ctx, &domain.DepositToken{
			MailboxID: mailboxID,
			DepHash:   digest,
			CreatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("add deposit token: %w", err)
		}
		if added {
			result.Added++
		}
		result.Hashes = append(result.Hashes, auth.Encode(digest))
	}

	return result, nil
}

// RevokeDepositTokens 按摘要吊销投递令牌，返回实际由未吊销变为已吊销的数量。
//
// 输入是登记时返回的摘要而不是原始令牌。
func (s *MailboxService) RevokeDepositTokens(ctx context.Context, mailboxID, authorization string, hashes []string) (int64, error) {
	if _, err := s.authenticatePoll(ctx, mailboxID, authorization); err != nil {
		return 0, err
	}
	if err := domain.ValidateBatchSize(len(hashes), domain.MaxRevokeBatch); err != nil {
		return 0, err
	}

	var revoked int64
	defer func() { s.metrics.RecordDepositTokensRevoked(revoked) }()

	for i, text := range hashes {
		digest, err := auth.Decode(text)
		if err != nil {
			return revoked, fmt.Errorf("deposit token hash %d: %w", i, err)
		}
		if len(digest) != domain.DigestLength {
			return revoked, fmt.Errorf("deposit token hash %d must be %d bytes: %w", i, domain.DigestLength, domain.ErrInvalidInput)
		}

		flipped, err := s.store.RevokeDepositToken(ctx, mailboxID, digest)
		if err != nil {
			return revoked, fmt.Errorf("revoke deposit token: %w", err)
		}
		if flipped {
			revoked++
		}
	}

	return revoked, nil
}
