package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deaddrop/backend/internal/domain"
)

var testSecret = []byte("test-secret-key-for-development-32-bytes-long")

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	a, err := NewAuthority(testSecret)
	require.NoError(t, err)
	return a
}

func TestNewAuthority(t *testing.T) {
	t.Run("空密钥失败", func(t *testing.T) {
		a, err := NewAuthority(nil)
		assert.ErrorIs(t, err, ErrMissingSecret)
		assert.Nil(t, a)
	})

	t.Run("复制密钥", func(t *testing.T) {
		secret := append([]byte(nil), testSecret...)
		a, err := NewAuthority(secret)
		require.NoError(t, err)

		before := a.Digest([]byte("token"))
		secret[0] ^= 0xff
		assert.Equal(t, before, a.Digest([]byte("token")))
	})
}

func TestDigest(t *testing.T) {
	a := newTestAuthority(t)
	raw := bytes.Repeat([]byte{0x42}, 32)

	mac := hmac.New(sha256.New, testSecret)
	mac.Write(raw)
	expected := mac.Sum(nil)

	digest := a.Digest(raw)
	assert.Equal(t, expected, digest)
	assert.Len(t, digest, domain.DigestLength)
	assert.True(t, a.VerifyDigest(raw, digest))

	other, err := NewAuthority([]byte("another-secret-another-secret-0123456789"))
	require.NoError(t, err)
	assert.NotEqual(t, digest, other.Digest(raw))
	assert.False(t, other.VerifyDigest(raw, digest))
}

func TestNewToken(t *testing.T) {
	a := newTestAuthority(t)

	raw, text, err := a.NewToken()
	require.NoError(t, err)
	assert.Len(t, raw, domain.TokenLength)
	assert.Len(t, text, 43)

	decoded, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	raw2, _, err := a.NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func TestNewMailboxID(t *testing.T) {
	a := newTestAuthority(t)

	id, err := a.NewMailboxID()
	require.NoError(t, err)
	assert.Len(t, id, 32)

	raw, err := Decode(id)
	require.NoError(t, err)
	assert.Len(t, raw, domain.MailboxIDLength)
}

func TestDecode(t *testing.T) {
	t.Run("无填充base64url", func(t *testing.T) {
		raw, err := Decode(Encode([]byte{0xfb, 0xff, 0xfe}))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xfb, 0xff, 0xfe}, raw)
	})

	t.Run("带填充失败", func(t *testing.T) {
		_, err := Decode("AAA=")
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})

	t.Run("标准字母表失败", func(t *testing.T) {
		_, err := Decode("+/+/")
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"标准格式", "Bearer abc", "abc", false},
		{"小写", "bearer abc", "abc", false},
		{"大写", "BEARER abc", "abc", false},
		{"多余空白", "  Bearer \t abc  ", "abc", false},
		{"缺失", "", "", true},
		{"只有方案", "Bearer", "", true},
		{"三个字段", "Bearer abc def", "", true},
		{"其他方案", "Basic abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBearer(tt.header)
			if tt.wantErr {
				assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBearerToken(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, 32)

	t.Run("有效令牌", func(t *testing.T) {
		got, err := BearerToken("Bearer " + Encode(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("长度错误为未授权", func(t *testing.T) {
		_, err := BearerToken("Bearer " + Encode(raw[:31]))
		assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
	})

	t.Run("无法解码为输入错误", func(t *testing.T) {
		_, err := BearerToken("Bearer !!!")
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})

	t.Run("格式错误为未授权", func(t *testing.T) {
		_, err := BearerToken("Token " + Encode(raw))
		assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
	})
}
