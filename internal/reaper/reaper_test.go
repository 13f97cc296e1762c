package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/storage/memory"
)

type mockDeleter struct {
	mock.Mock
}

func (m *mockDeleter) DeleteExpiredMessages(ctx context.Context, now int64) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// countingDeleter 记录调用次数
type countingDeleter struct {
	calls atomic.Int64
}

func (c *countingDeleter) DeleteExpiredMessages(context.Context, int64) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("删除已过期消息", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateMailbox(ctx, &domain.Mailbox{MailboxID: "mb", PollHash: []byte("h"), CreatedAt: 1}))

		for i, expires := range []int64{90, 100, 101} {
			require.NoError(t, store.InsertMessage(ctx, &domain.Message{
				MailboxID:  "mb",
				MsgID:      []byte{byte(i), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
				Blob:       []byte("x"),
				ReceivedAt: 1,
				ExpiresAt:  expires,
			}))
		}

		r := New(store, time.Minute, zap.NewNop(), nil)
		r.now = func() time.Time { return time.Unix(100, 0) }

		assert.Equal(t, int64(2), r.RunOnce(ctx))
		assert.Equal(t, int64(0), r.RunOnce(ctx))

		msgs, err := store.ListMessagesAfter(ctx, "mb", 0, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, int64(101), msgs[0].ExpiresAt)
	})

	t.Run("失败不向外传播", func(t *testing.T) {
		store := &mockDeleter{}
		store.On("DeleteExpiredMessages", mock.Anything, int64(500)).Return(int64(0), errors.New("database is locked")).Once()
		store.On("DeleteExpiredMessages", mock.Anything, int64(500)).Return(int64(3), nil).Once()

		metrics := monitoring.NewMetrics()
		r := New(store, time.Minute, zap.NewNop(), metrics)
		r.now = func() time.Time { return time.Unix(500, 0) }

		assert.Equal(t, int64(0), r.RunOnce(ctx))
		assert.Equal(t, int64(3), r.RunOnce(ctx))
		store.AssertExpectations(t)
	})
}

func TestRun(t *testing.T) {
	t.Run("启动时立即执行并按周期重复", func(t *testing.T) {
		store := &countingDeleter{}
		r := New(store, 10*time.Millisecond, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		assert.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("reaper did not stop")
		}
	})

	t.Run("默认周期", func(t *testing.T) {
		r := New(&countingDeleter{}, 0, nil, nil)
		assert.Equal(t, time.Minute, r.interval)
	})
}
