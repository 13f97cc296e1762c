package memory

import (
	"context"
	"fmt"
	"sync"

	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/storage"
)

// Store 使用内存保存投递箱、令牌摘要与消息，用于开发模式和测试。
//
// 语义与 SQL 存储一致：sequence_id 全局单调递增且不复用，
// (mailbox_id, msg_id) 与 (mailbox_id, dep_hash) 唯一。
type Store struct {
	mu            sync.RWMutex
	mailboxes     map[string]*domain.Mailbox
	depositTokens map[string]*domain.DepositToken // mailboxID + dep_hash -> token
	messages      map[string][]*domain.Message    // mailboxID -> 按 sequence_id 升序
	msgIndex      map[string]struct{}             // mailboxID + msg_id
	lastSeq       int64
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes:     make(map[string]*domain.Mailbox),
		depositTokens: make(map[string]*domain.DepositToken),
		messages:      make(map[string][]*domain.Message),
		msgIndex:      make(map[string]struct{}),
	}
}

func compositeKey(mailboxID string, id []byte) string {
	return fmt.Sprintf("%s\x00%x", mailboxID, id)
}

// CreateMailbox 保存投递箱。
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[mailbox.MailboxID]; ok {
		return storage.ErrMailboxExists
	}
	cp := *mailbox
	cp.PollHash = append([]byte(nil), mailbox.PollHash...)
	s.mailboxes[mailbox.MailboxID] = &cp
	return nil
}

// GetMailbox 根据 ID 获取投递箱。
func (s *Store) GetMailbox(_ context.Context, mailboxID string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	cp := *mailbox
	return &cp, nil
}

// AddDepositToken 登记令牌摘要，已存在时忽略。
func (s *Store) AddDepositToken(_ context.Context, token *domain.DepositToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(token.MailboxID, token.DepHash)
	if _, ok := s.depositTokens[key]; ok {
		return false, nil
	}
	cp := *token
	cp.DepHash = append([]byte(nil), token.DepHash...)
	s.depositTokens[key] = &cp
	return true, nil
}

// GetDepositToken 获取令牌摘要记录。
func (s *Store) GetDepositToken(_ context.Context, mailboxID string, depHash []byte) (*domain.DepositToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.depositTokens[compositeKey(mailboxID, depHash)]
	if !ok {
		return nil, storage.ErrDepositTokenNotFound
	}
	cp := *token
	return &cp, nil
}

// RevokeDepositToken 吊销令牌，已吊销或不存在时返回 false。
func (s *Store) RevokeDepositToken(_ context.Context, mailboxID string, depHash []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.depositTokens[compositeKey(mailboxID, depHash)]
	if !ok || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	return true, nil
}

// QueueBytes 统计投递箱内已存消息体总字节数。
func (s *Store) QueueBytes(_ context.Context, mailboxID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, msg := range s.messages[mailboxID] {
		total += msg.Size()
	}
	return total, nil
}

// InsertMessage 写入消息并分配 sequence_id。
func (s *Store) InsertMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(msg.MailboxID, msg.MsgID)
	if _, ok := s.msgIndex[key]; ok {
		return storage.ErrDuplicateMessage
	}

	s.lastSeq++
	msg.SequenceID = s.lastSeq

	cp := *msg
	cp.MsgID = append([]byte(nil), msg.MsgID...)
	cp.Blob = append([]byte(nil), msg.Blob...)
	s.messages[msg.MailboxID] = append(s.messages[msg.MailboxID], &cp)
	s.msgIndex[key] = struct{}{}
	return nil
}

// ListMessagesAfter 返回水位之后尚未过期的消息。
func (s *Store) ListMessagesAfter(_ context.Context, mailboxID string, afterSeq, now int64, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, msg := range s.messages[mailboxID] {
		if len(result) >= limit {
			break
		}
		if msg.SequenceID <= afterSeq || msg.IsExpired(now) {
			continue
		}
		result = append(result, *msg)
	}
	return result, nil
}

// DeleteMessage 删除指定消息，不存在时返回 0。
func (s *Store) DeleteMessage(_ context.Context, mailboxID string, msgID []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := compositeKey(mailboxID, msgID)
	if _, ok := s.msgIndex[key]; !ok {
		return 0, nil
	}

	msgs := s.messages[mailboxID]
	for i, msg := range msgs {
		if compositeKey(mailboxID, msg.MsgID) == key {
			s.messages[mailboxID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	delete(s.msgIndex, key)
	return 1, nil
}

// DeleteExpiredMessages 删除所有已过期的消息。
func (s *Store) DeleteExpiredMessages(_ context.Context, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for mailboxID, msgs := range s.messages {
		kept := msgs[:0:0]
		for _, msg := range msgs {
			if msg.IsExpired(now) {
				delete(s.msgIndex, compositeKey(mailboxID, msg.MsgID))
				deleted++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.messages, mailboxID)
		} else {
			s.messages[mailboxID] = kept
		}
	}
	return deleted, nil
}

// Health 内存存储始终健康。
func (s *Store) Health(_ context.Context) error {
	return nil
}

// Close 内存存储无需关闭。
func (s *Store) Close() error {
	return nil
}
