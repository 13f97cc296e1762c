package domain

// Mailbox 表示一个投递箱。
//
// 创建后不可变，没有任何接口会删除它。PollHash 是读取令牌的 HMAC 摘要，
// 原始令牌从不落库。
type Mailbox struct {
	MailboxID string `json:"mailboxId" gorm:"column:mailbox_id;primaryKey;type:varchar(64)"`
	PollHash  []byte `json:"-" gorm:"column:poll_hash;size:32;not null"`
	CreatedAt int64  `json:"createdAt" gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (Mailbox) TableName() string { return "mailboxes" }

// DepositToken 表示一个已登记的投递令牌摘要。
//
// (MailboxID, DepHash) 唯一，重复登记不报错也不覆盖。Revoked 只会从 false 变为 true。
type DepositToken struct {
	MailboxID string `json:"mailboxId" gorm:"column:mailbox_id;primaryKey;type:varchar(64)"`
	DepHash   []byte `json:"-" gorm:"column:dep_hash;primaryKey;size:32"`
	Revoked   bool   `json:"revoked" gorm:"column:revoked;not null;default:false"`
	CreatedAt int64  `json:"createdAt" gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (DepositToken) TableName() string { return "deposit_tokens" }
