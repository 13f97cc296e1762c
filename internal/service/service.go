// Package service 实现投递箱的业务流程：创建、登记与吊销投递令牌、投递、拉取和确认。
//
// 每个流程都是顺序校验管线，任何一步失败即返回带 domain.ErrorKind 的错误，
// 由传输层统一映射为状态码。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deaddrop/backend/internal/auth"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/storage"
)

// guard 负责读取令牌与投递令牌的校验，两个服务共用
type guard struct {
	store     storage.Store
	authority *auth.Authority
	now       func() time.Time
}

func (g *guard) unixNow() int64 {
	return g.now().Unix()
}

// loadMailbox 查询投递箱，不存在时归为 NotFound
func (g *guard) loadMailbox(ctx context.Context, mailboxID string) (*domain.Mailbox, error) {
	mailbox, err := g.store.GetMailbox(ctx, mailboxID)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, fmt.Errorf("mailbox %s: %w", mailboxID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load mailbox: %w", err)
	}
	return mailbox, nil
}

// authenticatePoll 校验读取令牌，成功时返回投递箱
func (g *guard) authenticatePoll(ctx context.Context, mailboxID, authorization string) (*domain.Mailbox, error) {
	raw, err := auth.BearerToken(authorization)
	if err != nil {
		return nil, err
	}

	mailbox, err := g.loadMailbox(ctx, mailboxID)
	if err != nil {
		return nil, err
	}

	if !g.authority.VerifyDigest(raw, mailbox.PollHash) {
		return nil, fmt.Errorf("poll token mismatch: %w", domain.ErrForbidden)
	}
	return mailbox, nil
}

// authenticateDeposit 校验投递令牌：摘要已登记且未吊销
func (g *guard) authenticateDeposit(ctx context.Context, mailboxID, authorization string) error {
	raw, err := auth.BearerToken(authorization)
	if err != nil {
		return err
	}

	if _, err := g.loadMailbox(ctx, mailboxID); err != nil {
		return err
	}

	token, err := g.store.GetDepositToken(ctx, mailboxID, g.authority.Digest(raw))
	if errors.Is(err, storage.ErrDepositTokenNotFound) {
		return fmt.Errorf("deposit token not registered: %w", domain.ErrForbidden)
	}
	if err != nil {
		return fmt.Errorf("load deposit token: %w", err)
	}
	if token.Revoked {
		return fmt.Errorf("deposit token revoked: %w", domain.ErrForbidden)
	}
	return nil
}
