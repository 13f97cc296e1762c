// Package auth 实现能力令牌的生成、解码与摘要。
//
// 服务端只保存 HMAC-SHA256(server_secret, raw_token) 摘要，原始令牌从不落库；
// 没有密钥就无法从数据库备份伪造任何能力。
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"deaddrop/backend/internal/domain"
)

// ErrMissingSecret 未提供服务端密钥
var ErrMissingSecret = errors.New("server secret is empty")

// encoding 令牌、摘要、ID 统一使用无填充的 base64url
var encoding = base64.RawURLEncoding

// Authority 持有进程级密钥，启动时构造一次，之后只读
type Authority struct {
	secret []byte
}

// NewAuthority 创建令牌权威
func NewAuthority(secret []byte) (*Authority, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Authority{secret: key}, nil
}

// Digest 计算原始令牌的 HMAC-SHA256 摘要
func (a *Authority) Digest(raw []byte) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(raw)
	return mac.Sum(nil)
}

// VerifyDigest 以常量时间比较令牌摘要与已存摘要
func (a *Authority) VerifyDigest(raw, stored []byte) bool {
	return hmac.Equal(a.Digest(raw), stored)
}

// NewToken 生成 32 字节随机令牌，返回原始字节和传输文本
func (a *Authority) NewToken() ([]byte, string, error) {
	raw, err := randomBytes(domain.TokenLength)
	if err != nil {
		return nil, "", err
	}
	return raw, encoding.EncodeToString(raw), nil
}

// NewMailboxID 生成 24 字节随机投递箱 ID（32 个字符）
func (a *Authority) NewMailboxID() (string, error) {
	raw, err := randomBytes(domain.MailboxIDLength)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// Encode 将字节编码为传输文本
func Encode(raw []byte) string {
	return encoding.EncodeToString(raw)
}

// Decode 解码 base64url 文本，失败归为 InvalidInput。长度由调用方检查。
func Decode(text string) ([]byte, error) {
	raw, err := encoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", domain.ErrInvalidInput)
	}
	return raw, nil
}

// ParseBearer 从 Authorization 头中取出令牌文本
//
// 头必须恰好是两个空白分隔的字段，且第一个字段不区分大小写地等于 "bearer"，
// 否则视为没有正确出示凭证。
func ParseBearer(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("malformed authorization header: %w", domain.ErrUnauthorized)
	}
	return parts[1], nil
}

// BearerToken 解析 Authorization 头并解码出 32 字节原始令牌
//
// 文本无法解码时为 InvalidInput，解码后长度不对时为 Unauthorized。
func BearerToken(header string) ([]byte, error) {
	text, err := ParseBearer(header)
	if err != nil {
		return nil, err
	}
	raw, err := Decode(text)
	if err != nil {
		return nil, err
	}
	if len(raw) != domain.TokenLength {
		return nil, fmt.Errorf("bearer token must be %d bytes: %w", domain.TokenLength, domain.ErrUnauthorized)
	}
	return raw, nil
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}
