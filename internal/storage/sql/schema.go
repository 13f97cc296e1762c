package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"deaddrop/backend/internal/domain"
)

// sqliteSchema SQLite 使用手写 DDL，AUTOINCREMENT 保证 sequence_id 删除后不复用
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS mailboxes (
		mailbox_id TEXT PRIMARY KEY,
		poll_hash BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deposit_tokens (
		mailbox_id TEXT NOT NULL,
		dep_hash BLOB NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (mailbox_id, dep_hash)
	);

	CREATE TABLE IF NOT EXISTS messages (
		sequence_id INTEGER PRIMARY KEY AUTOINCREMENT,
		mailbox_id TEXT NOT NULL,
		msg_id BLOB NOT NULL,
		payload BLOB NOT NULL,
		received_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		CONSTRAINT uniq_messages_mailbox_msg UNIQUE (mailbox_id, msg_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_expires_at
		ON messages(expires_at);

	CREATE INDEX IF NOT EXISTS idx_messages_mailbox_seq
		ON messages(mailbox_id, sequence_id);
`

// Migrate 创建或升级表结构
//
// PostgreSQL 与 MySQL 使用 GORM AutoMigrate 从领域模型生成表结构，SQLite 使用手写 DDL。
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect.name == "sqlite" {
		if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
		return nil
	}

	gormDB, err := s.openGorm()
	if err != nil {
		return fmt.Errorf("initialize GORM: %w", err)
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&domain.Mailbox{},
		&domain.DepositToken{},
		&domain.Message{},
	)
}

// openGorm 在已有连接池上构造 GORM 实例，只用于迁移
func (s *Store) openGorm() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch {
	case s.dialect.isPostgres():
		dialector = postgres.New(postgres.Config{Conn: s.db})
	case s.dialect.name == "mysql":
		dialector = mysql.New(mysql.Config{Conn: s.db})
	default:
		return nil, fmt.Errorf("no GORM dialector for driver %s", s.dialect.name)
	}

	return gorm.Open(dialector, gormConfig)
}
