package cursor

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deaddrop/backend/internal/domain"
)

var testSecret = []byte("test-secret-key-for-development-32-bytes-long")

func TestEncodeDecode(t *testing.T) {
	c := NewCodec(testSecret)

	for _, id := range []int64{0, 1, 42, 1 << 40, math.MaxInt64} {
		text := c.Encode("mailbox-a", id)

		raw, err := base64.RawURLEncoding.DecodeString(text)
		require.NoError(t, err)
		assert.Len(t, raw, 40)
		assert.Equal(t, uint64(id), binary.LittleEndian.Uint64(raw[:8]))

		got, err := c.Decode("mailbox-a", text)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	c := NewCodec(testSecret)
	assert.Equal(t, c.Encode("mb", 7), c.Encode("mb", 7))
	assert.NotEqual(t, c.Encode("mb", 7), c.Encode("mb", 8))
}

func TestDecodeRejects(t *testing.T) {
	c := NewCodec(testSecret)
	valid := c.Encode("mailbox-a", 5)

	tampered := func() string {
		raw, _ := base64.RawURLEncoding.DecodeString(valid)
		raw[0] ^= 0x01
		return base64.RawURLEncoding.EncodeToString(raw)
	}()

	truncated := func() string {
		raw, _ := base64.RawURLEncoding.DecodeString(valid)
		return base64.RawURLEncoding.EncodeToString(raw[:39])
	}()

	tests := []struct {
		name      string
		mailboxID string
		text      string
	}{
		{"其他投递箱", "mailbox-b", valid},
		{"篡改水位", "mailbox-a", tampered},
		{"长度不足", "mailbox-a", truncated},
		{"非法编码", "mailbox-a", "not*base64"},
		{"空串", "mailbox-a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.mailboxID, tt.text)
			assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
		})
	}

	t.Run("其他密钥", func(t *testing.T) {
		other := NewCodec([]byte("another-secret-another-secret-0123456789"))
		_, err := other.Decode("mailbox-a", valid)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestResolve(t *testing.T) {
	c := NewCodec(testSecret)

	t.Run("未提供从零开始", func(t *testing.T) {
		wm, err := c.Resolve("mb", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), wm)
	})

	t.Run("空串视为格式错误", func(t *testing.T) {
		empty := ""
		_, err := c.Resolve("mb", &empty)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("有效游标", func(t *testing.T) {
		text := c.Encode("mb", 99)
		wm, err := c.Resolve("mb", &text)
		require.NoError(t, err)
		assert.Equal(t, int64(99), wm)
	})
}
