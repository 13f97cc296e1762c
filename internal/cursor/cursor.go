// Package cursor 编解码与投递箱绑定的分页游标。
//
// 线上格式: base64url(u64le(last_id) || HMAC-SHA256(secret, "cursor" || mailbox_id || u64le(last_id)))，
// 解码后固定 40 字节。解码时用当前请求的 mailbox_id 重新计算标签，
// 因此为 A 签发的游标拿到 B 上一定被拒绝。
package cursor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"deaddrop/backend/internal/domain"
)

const (
	idLength  = 8
	tagLength = sha256.Size
	rawLength = idLength + tagLength
)

var domainSeparator = []byte("cursor")

// Codec 游标编解码器，只持有只读密钥，可并发使用
type Codec struct {
	secret []byte
}

// NewCodec 创建游标编解码器
func NewCodec(secret []byte) *Codec {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key}
}

// Encode 为 mailboxID 上的水位 lastID 签发游标
func (c *Codec) Encode(mailboxID string, lastID int64) string {
	out := make([]byte, idLength, rawLength)
	binary.LittleEndian.PutUint64(out, uint64(lastID))
	out = append(out, c.tag(mailboxID, out[:idLength])...)
	return base64.RawURLEncoding.EncodeToString(out)
}

// Decode 校验游标并取出水位
//
// 解码失败、长度不是 40 字节、标签不匹配都归为 InvalidInput。
func (c *Codec) Decode(mailboxID, text string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", domain.ErrInvalidInput)
	}
	if len(raw) != rawLength {
		return 0, fmt.Errorf("cursor must be %d bytes, got %d: %w", rawLength, len(raw), domain.ErrInvalidInput)
	}

	idBytes, tag := raw[:idLength], raw[idLength:]
	if !hmac.Equal(tag, c.tag(mailboxID, idBytes)) {
		return 0, fmt.Errorf("cursor tag mismatch: %w", domain.ErrInvalidInput)
	}
	return int64(binary.LittleEndian.Uint64(idBytes)), nil
}

// Resolve 将可选游标解析为水位：未提供时从 0 开始，提供了空串视为格式错误
func (c *Codec) Resolve(mailboxID string, text *string) (int64, error) {
	if text == nil {
		return 0, nil
	}
	return c.Decode(mailboxID, *text)
}

func (c *Codec) tag(mailboxID string, idBytes []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(domainSeparator)
	mac.Write([]byte(mailboxID))
	mac.Write(idBytes)
	return mac.Sum(nil)
}
