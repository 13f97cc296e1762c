// Package storagetest 提供 storage.Store 各实现共用的行为测试。
package storagetest

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/storage"
)

// Factory 为每个子测试创建一个全新的存储
type Factory func(t *testing.T) storage.Store

// Run 运行存储契约测试
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("投递箱创建与查询", func(t *testing.T) {
		s := newStore(t)
		mb := newMailbox("mailbox-1")

		require.NoError(t, s.CreateMailbox(ctx, mb))

		got, err := s.GetMailbox(ctx, "mailbox-1")
		require.NoError(t, err)
		assert.Equal(t, mb.MailboxID, got.MailboxID)
		assert.Equal(t, mb.PollHash, got.PollHash)
		assert.Equal(t, mb.CreatedAt, got.CreatedAt)

		_, err = s.GetMailbox(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("投递令牌登记幂等", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		tok := &domain.DepositToken{MailboxID: "mb", DepHash: hash(1), CreatedAt: 100}

		added, err := s.AddDepositToken(ctx, tok)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.AddDepositToken(ctx, &domain.DepositToken{MailboxID: "mb", DepHash: hash(1), CreatedAt: 200})
		require.NoError(t, err)
		assert.False(t, added)

		got, err := s.GetDepositToken(ctx, "mb", hash(1))
		require.NoError(t, err)
		assert.False(t, got.Revoked)
		assert.Equal(t, int64(100), got.CreatedAt)

		_, err = s.GetDepositToken(ctx, "mb", hash(2))
		assert.ErrorIs(t, err, storage.ErrDepositTokenNotFound)

		_, err = s.GetDepositToken(ctx, "other", hash(1))
		assert.ErrorIs(t, err, storage.ErrDepositTokenNotFound)
	})

	t.Run("吊销只翻转一次", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))
		_, err := s.AddDepositToken(ctx, &domain.DepositToken{MailboxID: "mb", DepHash: hash(1), CreatedAt: 1})
		require.NoError(t, err)

		flipped, err := s.RevokeDepositToken(ctx, "mb", hash(1))
		require.NoError(t, err)
		assert.True(t, flipped)

		flipped, err = s.RevokeDepositToken(ctx, "mb", hash(1))
		require.NoError(t, err)
		assert.False(t, flipped)

		flipped, err = s.RevokeDepositToken(ctx, "mb", hash(9))
		require.NoError(t, err)
		assert.False(t, flipped)

		got, err := s.GetDepositToken(ctx, "mb", hash(1))
		require.NoError(t, err)
		assert.True(t, got.Revoked)

		// 重新登记不会重置吊销状态
		added, err := s.AddDepositToken(ctx, &domain.DepositToken{MailboxID: "mb", DepHash: hash(1), CreatedAt: 2})
		require.NoError(t, err)
		assert.False(t, added)
		got, err = s.GetDepositToken(ctx, "mb", hash(1))
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("消息写入与重复", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		first := newMessage("mb", 1, "hello", 100, 200)
		require.NoError(t, s.InsertMessage(ctx, first))
		assert.Positive(t, first.SequenceID)

		dup := newMessage("mb", 1, "different body", 100, 200)
		err := s.InsertMessage(ctx, dup)
		assert.ErrorIs(t, err, storage.ErrDuplicateMessage)

		// 不同投递箱可使用相同 msg_id
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb2")))
		require.NoError(t, s.InsertMessage(ctx, newMessage("mb2", 1, "x", 100, 200)))

		msgs, err := s.ListMessagesAfter(ctx, "mb", 0, 150, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, []byte("hello"), msgs[0].Blob)
		assert.Equal(t, msgID(1), msgs[0].MsgID)
		assert.Equal(t, int64(100), msgs[0].ReceivedAt)
		assert.Equal(t, int64(200), msgs[0].ExpiresAt)
	})

	t.Run("序号递增且不复用", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		var last int64
		for i := 1; i <= 3; i++ {
			m := newMessage("mb", byte(i), "x", 100, 200)
			require.NoError(t, s.InsertMessage(ctx, m))
			assert.Greater(t, m.SequenceID, last)
			last = m.SequenceID
		}

		deleted, err := s.DeleteMessage(ctx, "mb", msgID(3))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		m := newMessage("mb", 4, "x", 100, 200)
		require.NoError(t, s.InsertMessage(ctx, m))
		assert.Greater(t, m.SequenceID, last)
	})

	t.Run("分页过滤水位和过期", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		now := int64(1000)
		seqs := make([]int64, 0, 5)
		for i := 1; i <= 5; i++ {
			expires := now + 100
			if i == 3 {
				expires = now // 恰好到期
			}
			m := newMessage("mb", byte(i), "x", now-10, expires)
			require.NoError(t, s.InsertMessage(ctx, m))
			seqs = append(seqs, m.SequenceID)
		}

		msgs, err := s.ListMessagesAfter(ctx, "mb", 0, now, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].SequenceID, msgs[i-1].SequenceID)
		}
		for _, m := range msgs {
			assert.Greater(t, m.ExpiresAt, now)
		}

		page, err := s.ListMessagesAfter(ctx, "mb", 0, now, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, seqs[0], page[0].SequenceID)
		assert.Equal(t, seqs[1], page[1].SequenceID)

		page, err = s.ListMessagesAfter(ctx, "mb", page[1].SequenceID, now, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, seqs[3], page[0].SequenceID)
		assert.Equal(t, seqs[4], page[1].SequenceID)

		page, err = s.ListMessagesAfter(ctx, "mb", seqs[4], now, 2)
		require.NoError(t, err)
		assert.Empty(t, page)

		page, err = s.ListMessagesAfter(ctx, "other", 0, now, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("队列字节数包含未清理的过期消息", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		bytesUsed, err := s.QueueBytes(ctx, "mb")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bytesUsed)

		require.NoError(t, s.InsertMessage(ctx, newMessage("mb", 1, "12345", 100, 200)))
		require.NoError(t, s.InsertMessage(ctx, newMessage("mb", 2, "1234567890", 100, 101)))

		bytesUsed, err = s.QueueBytes(ctx, "mb")
		require.NoError(t, err)
		assert.Equal(t, int64(15), bytesUsed)
	})

	t.Run("确认删除幂等", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))
		require.NoError(t, s.InsertMessage(ctx, newMessage("mb", 1, "x", 100, 200)))

		deleted, err := s.DeleteMessage(ctx, "other", msgID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		deleted, err = s.DeleteMessage(ctx, "mb", msgID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = s.DeleteMessage(ctx, "mb", msgID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		deleted, err = s.DeleteMessage(ctx, "mb", []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)
	})

	t.Run("清理过期消息", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("a")))
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("b")))

		require.NoError(t, s.InsertMessage(ctx, newMessage("a", 1, "x", 10, 50)))
		require.NoError(t, s.InsertMessage(ctx, newMessage("a", 2, "x", 10, 100)))
		require.NoError(t, s.InsertMessage(ctx, newMessage("b", 1, "x", 10, 101)))

		deleted, err := s.DeleteExpiredMessages(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		msgs, err := s.ListMessagesAfter(ctx, "b", 0, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)

		bytesUsed, err := s.QueueBytes(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bytesUsed)

		// 清理后 msg_id 可再次使用
		require.NoError(t, s.InsertMessage(ctx, newMessage("a", 1, "x", 10, 500)))
	})

	t.Run("并发重复投递只有一个成功", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateMailbox(ctx, newMailbox("mb")))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InsertMessage(ctx, newMessage("mb", 7, "same", 100, 200))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, storage.ErrDuplicateMessage):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, workers-1, conflicts)

		msgs, err := s.ListMessagesAfter(ctx, "mb", 0, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("健康检查", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Health(ctx))
	})
}

func newMailbox(id string) *domain.Mailbox {
	return &domain.Mailbox{MailboxID: id, PollHash: hash(0xAA), CreatedAt: 1700000000}
}

func newMessage(mailboxID string, id byte, body string, receivedAt, expiresAt int64) *domain.Message {
	return &domain.Message{
		MailboxID:  mailboxID,
		MsgID:      msgID(id),
		Blob:       []byte(body),
		ReceivedAt: receivedAt,
		ExpiresAt:  expiresAt,
	}
}

func hash(b byte) []byte {
	return bytes.Repeat([]byte{b}, domain.DigestLength)
}

func msgID(b byte) []byte {
	return bytes.Repeat([]byte{b}, domain.MinMsgIDLength)
}
