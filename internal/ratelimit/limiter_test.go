package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) IncrementWindow(ctx context.Context, scope, subject string, window time.Duration) (int64, error) {
	args := m.Called(ctx, scope, subject, window)
	return args.Get(0).(int64), args.Error(1)
}

func TestLocalLimiter(t *testing.T) {
	t.Run("突发容量耗尽后拒绝", func(t *testing.T) {
		l := NewLocalLimiter(60, 3)
		now := time.Unix(1700000000, 0)
		l.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			ok, err := l.Allow(context.Background(), "deposit", "1.2.3.4")
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, _ := l.Allow(context.Background(), "deposit", "1.2.3.4")
		assert.False(t, ok)

		// 每分钟 60 次即每秒补充一个令牌
		now = now.Add(time.Second)
		ok, _ = l.Allow(context.Background(), "deposit", "1.2.3.4")
		assert.True(t, ok)
	})

	t.Run("不同客户端互不影响", func(t *testing.T) {
		l := NewLocalLimiter(60, 1)
		ok, _ := l.Allow(context.Background(), "create", "a")
		assert.True(t, ok)
		ok, _ = l.Allow(context.Background(), "create", "a")
		assert.False(t, ok)
		ok, _ = l.Allow(context.Background(), "create", "b")
		assert.True(t, ok)
		ok, _ = l.Allow(context.Background(), "deposit", "a")
		assert.True(t, ok)
	})

	t.Run("清理空闲桶", func(t *testing.T) {
		l := NewLocalLimiter(60, 1)
		now := time.Unix(1700000000, 0)
		l.now = func() time.Time { return now }

		_, _ = l.Allow(context.Background(), "create", "a")
		_, _ = l.Allow(context.Background(), "create", "b")
		assert.Equal(t, 2, l.Size())

		now = now.Add(11 * time.Minute)
		_, _ = l.Allow(context.Background(), "create", "c")
		assert.Equal(t, 1, l.Size())
	})
}

func TestRedisLimiter(t *testing.T) {
	t.Run("窗口内未超限放行", func(t *testing.T) {
		counter := new(mockCounter)
		counter.On("IncrementWindow", mock.Anything, "deposit", "1.2.3.4", time.Minute).Return(int64(2), nil)

		l := NewRedisLimiter(counter, 2, nil, zap.NewNop())
		ok, err := l.Allow(context.Background(), "deposit", "1.2.3.4")

		require.NoError(t, err)
		assert.True(t, ok)
		counter.AssertExpectations(t)
	})

	t.Run("超限拒绝", func(t *testing.T) {
		counter := new(mockCounter)
		counter.On("IncrementWindow", mock.Anything, "deposit", "1.2.3.4", time.Minute).Return(int64(3), nil)

		l := NewRedisLimiter(counter, 2, nil, zap.NewNop())
		ok, err := l.Allow(context.Background(), "deposit", "1.2.3.4")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("计数器故障时退化到本地限流", func(t *testing.T) {
		counter := new(mockCounter)
		counter.On("IncrementWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("connection refused"))

		l := NewRedisLimiter(counter, 100, NewLocalLimiter(60, 1), zap.NewNop())
		ok, _ := l.Allow(context.Background(), "create", "a")
		assert.True(t, ok)
		ok, _ = l.Allow(context.Background(), "create", "a")
		assert.False(t, ok)
	})

	t.Run("计数器故障且无本地限流时放行", func(t *testing.T) {
		counter := new(mockCounter)
		counter.On("IncrementWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("timeout"))

		l := NewRedisLimiter(counter, 1, nil, zap.NewNop())
		ok, err := l.Allow(context.Background(), "create", "a")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
