package domain

import "fmt"

// 能力令牌与批量操作的边界
const (
	// TokenLength 读取令牌和投递令牌解码后的字节数
	TokenLength = 32
	// DigestLength HMAC-SHA256 摘要字节数
	DigestLength = 32
	// MailboxIDLength 投递箱 ID 的随机字节数
	MailboxIDLength = 24

	// 消息 ID 解码后的长度范围
	MinMsgIDLength = 16
	MaxMsgIDLength = 32

	// 单次请求的批量上限
	MaxRegisterBatch = 5000
	MaxAckBatch      = 2000
	MaxRevokeBatch   = 1000
)

// ValidateMsgID 检查投递时的消息 ID 长度
//
// 确认（ack）不做这项检查，未匹配的 ID 只是不删除任何行。
func ValidateMsgID(raw []byte) error {
	if len(raw) < MinMsgIDLength || len(raw) > MaxMsgIDLength {
		return fmt.Errorf("msg id must be %d-%d bytes, got %d: %w", MinMsgIDLength, MaxMsgIDLength, len(raw), ErrInvalidInput)
	}
	return nil
}

// ValidateBatchSize 检查批量请求的条目数在 [1, max] 内
func ValidateBatchSize(n, max int) error {
	if n < 1 || n > max {
		return fmt.Errorf("batch size must be 1-%d, got %d: %w", max, n, ErrInvalidInput)
	}
	return nil
}

// ValidateTokenLength 检查解码后的令牌或摘要长度
func ValidateTokenLength(raw []byte) error {
	if len(raw) != TokenLength {
		return fmt.Errorf("token must be %d bytes, got %d: %w", TokenLength, len(raw), ErrInvalidInput)
	}
	return nil
}
