package domain

// Message 表示投递箱内一条不透明的消息。
//
// SequenceID 全局单调递增（不按投递箱重置，删除后不复用），是分页水位的唯一依据。
// (MailboxID, MsgID) 唯一，用于投递幂等和确认寻址。时间均为 Unix 秒。
type Message struct {
	SequenceID int64  `json:"sequenceId" gorm:"column:sequence_id;primaryKey;autoIncrement;index:idx_messages_mailbox_seq,priority:2"`
	MailboxID  string `json:"mailboxId" gorm:"column:mailbox_id;type:varchar(64);not null;uniqueIndex:uniq_messages_mailbox_msg,priority:1;index:idx_messages_mailbox_seq,priority:1"`
	MsgID      []byte `json:"msgId" gorm:"column:msg_id;size:32;not null;uniqueIndex:uniq_messages_mailbox_msg,priority:2"`
	Blob       []byte `json:"-" gorm:"column:payload;not null"`
	ReceivedAt int64  `json:"receivedAt" gorm:"column:received_at;not null"`
	ExpiresAt  int64  `json:"expiresAt" gorm:"column:expires_at;not null;index:idx_messages_expires_at"`
}

// TableName 指定表名
func (Message) TableName() string { return "messages" }

// Size 返回消息体字节数，计入投递箱配额
func (m *Message) Size() int64 { return int64(len(m.Blob)) }

// IsExpired 判断消息在给定时刻是否已过期（expires_at <= now）
func (m *Message) IsExpired(now int64) bool { return m.ExpiresAt <= now }
