package domain

import "errors"

// ErrorKind 是对外可见的错误分类，集合封闭。
//
// 每个请求最终只会落到其中一种结果；传输层只依赖这里的分类做状态码映射。
type ErrorKind int

const (
	// KindServerError 存储等意外故障，零值即服务器错误
	KindServerError ErrorKind = iota
	// KindUnauthorized 未正确出示凭证（缺失或不是 "bearer <token>"）
	KindUnauthorized
	// KindForbidden 出示了凭证但对该投递箱无效或已吊销
	KindForbidden
	// KindNotFound 投递箱不存在
	KindNotFound
	// KindInvalidInput 编码错误、长度或数量越界、过期时间非法
	KindInvalidInput
	// KindPayloadTooLarge 消息体超过上限
	KindPayloadTooLarge
	// KindRateLimited 超出配额或请求频率
	KindRateLimited
	// KindConflict 重复的消息 ID
	KindConflict
)

// String 返回对外的错误文本
func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindInvalidInput:
		return "invalid input"
	case KindPayloadTooLarge:
		return "payload too large"
	case KindRateLimited:
		return "rate limited"
	case KindConflict:
		return "conflict"
	default:
		return "server error"
	}
}

// Retryable 只有限流和服务器错误值得稍后重试
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindServerError
}

// 每种分类对应的哨兵错误，业务层用 fmt.Errorf("...: %w", ErrXxx) 包装
var (
	ErrUnauthorized    = &kindError{kind: KindUnauthorized}
	ErrForbidden       = &kindError{kind: KindForbidden}
	ErrNotFound        = &kindError{kind: KindNotFound}
	ErrInvalidInput    = &kindError{kind: KindInvalidInput}
	ErrPayloadTooLarge = &kindError{kind: KindPayloadTooLarge}
	ErrRateLimited     = &kindError{kind: KindRateLimited}
	ErrConflict        = &kindError{kind: KindConflict}
	ErrServerError     = &kindError{kind: KindServerError}
)

type kindError struct {
	kind ErrorKind
}

func (e *kindError) Error() string { return e.kind.String() }

// KindOf 对任意错误分类；无法识别的错误一律视为服务器错误
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindServerError
}
