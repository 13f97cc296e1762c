package storage

import (
	"context"
	"errors"

	"deaddrop/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 投递箱不存在
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrDepositTokenNotFound 投递令牌摘要未登记
	ErrDepositTokenNotFound = errors.New("deposit token not found")
	// ErrDuplicateMessage 同一投递箱内 msg_id 重复
	ErrDuplicateMessage = errors.New("duplicate message id")
	// ErrMailboxExists 投递箱 ID 冲突
	ErrMailboxExists = errors.New("mailbox already exists")
)

// MailboxRepository 定义投递箱数据存取操作。投递箱创建后不会被删除。
type MailboxRepository interface {
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	GetMailbox(ctx context.Context, mailboxID string) (*domain.Mailbox, error)
}

// DepositTokenRepository 定义投递令牌摘要的存取操作。
type DepositTokenRepository interface {
	// AddDepositToken 已存在时忽略，返回是否新插入
	AddDepositToken(ctx context.Context, token *domain.DepositToken) (bool, error)
	GetDepositToken(ctx context.Context, mailboxID string, depHash []byte) (*domain.DepositToken, error)
	// RevokeDepositToken 返回是否有一行从未吊销变为已吊销
	RevokeDepositToken(ctx context.Context, mailboxID string, depHash []byte) (bool, error)
}

// MessageRepository 定义消息数据存取操作。
type MessageRepository interface {
	// QueueBytes 统计投递箱内已存消息体总字节数（含尚未清理的过期消息）
	QueueBytes(ctx context.Context, mailboxID string) (int64, error)
	// InsertMessage 写入消息并回填 SequenceID，(mailbox_id, msg_id) 冲突返回 ErrDuplicateMessage
	InsertMessage(ctx context.Context, msg *domain.Message) error
	// ListMessagesAfter 按 sequence_id 升序返回 sequence_id > afterSeq 且 expires_at > now 的消息
	ListMessagesAfter(ctx context.Context, mailboxID string, afterSeq, now int64, limit int) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, mailboxID string, msgID []byte) (int64, error)
	// DeleteExpiredMessages 删除所有 expires_at <= now 的消息，返回删除数量
	DeleteExpiredMessages(ctx context.Context, now int64) (int64, error)
}

// Store 聚合所有存储接口
type Store interface {
	MailboxRepository
	DepositTokenRepository
	MessageRepository

	Health(ctx context.Context) error
	Close() error
}
