package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deaddrop/backend/internal/config"
)

// newTestClient 需要真实的 Redis，未设置 DEADDROP_TEST_REDIS_ADDRESS 时跳过
func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("DEADDROP_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("DEADDROP_TEST_REDIS_ADDRESS not set")
	}

	c, err := New(context.Background(), config.RedisConfig{Address: addr, DB: 15}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWindowKey(t *testing.T) {
	c := NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), zap.NewNop())
	defer c.Close()

	now := time.Unix(1700000125, 0)
	key := c.windowKey("deposit", "10.0.0.1", time.Minute, now)
	assert.Equal(t, "deaddrop:ratelimit:deposit:10.0.0.1:1700000100", key)

	// 同一窗口内的键相同
	assert.Equal(t, key, c.windowKey("deposit", "10.0.0.1", time.Minute, now.Add(30*time.Second)))
	assert.NotEqual(t, key, c.windowKey("deposit", "10.0.0.1", time.Minute, now.Add(time.Minute)))
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestIncrementWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	subject := "test-" + time.Now().Format("150405.000000000")

	n, err := c.IncrementWindow(ctx, "create", subject, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrementWindow(ctx, "create", subject, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, c.Ping(ctx))
}
