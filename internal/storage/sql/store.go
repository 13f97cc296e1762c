package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/storage"
)

// sqliteDefaultPragmas 未显式设置时为 SQLite 启用 WAL 和忙等待
const sqliteDefaultPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store SQL 数据库存储实现（支持 SQLite、PostgreSQL 和 MySQL）
type Store struct {
	db      *sql.DB
	dialect dialect
}

var _ storage.Store = (*Store)(nil)

// Open 打开数据库连接池并测试连接，不执行迁移
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	d, err := lookupDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dsn := cfg.DSN
	if d.name == "sqlite" && !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + sqliteDefaultPragmas
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if d.name == "sqlite" && strings.Contains(dsn, ":memory:") {
		// 每个连接都是独立的内存库
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

// NewStore 打开数据库并自动执行迁移
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Driver 返回驱动名
func (s *Store) Driver() string {
	return s.dialect.name
}

// Stats 返回连接池统计信息
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// ========== Mailbox Repository ==========

// CreateMailbox 创建投递箱
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	query := s.dialect.rebind(`INSERT INTO mailboxes (mailbox_id, poll_hash, created_at) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, mailbox.MailboxID, mailbox.PollHash, mailbox.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrMailboxExists
	}
	if err != nil {
		return fmt.Errorf("insert mailbox: %w", err)
	}
	return nil
}

// GetMailbox 根据 ID 获取投递箱
func (s *Store) GetMailbox(ctx context.Context, mailboxID string) (*domain.Mailbox, error) {
	query := s.dialect.rebind(`SELECT mailbox_id, poll_hash, created_at FROM mailboxes WHERE mailbox_id = ?`)

	var mailbox domain.Mailbox
	err := s.db.QueryRowContext(ctx, query, mailboxID).Scan(
		&mailbox.MailboxID,
		&mailbox.PollHash,
		&mailbox.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select mailbox: %w", err)
	}
	return &mailbox, nil
}

// ========== Deposit Token Repository ==========

// AddDepositToken 登记令牌摘要，已存在时忽略
func (s *Store) AddDepositToken(ctx context.Context, token *domain.DepositToken) (bool, error) {
	query := s.dialect.rebind(s.dialect.insertIgnore(
		"deposit_tokens",
		"mailbox_id, dep_hash, revoked, created_at",
		"?, ?, ?, ?",
	))
	res, err := s.db.ExecContext(ctx, query, token.MailboxID, token.DepHash, false, token.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert deposit token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert deposit token: %w", err)
	}
	return n > 0, nil
}

// GetDepositToken 获取令牌摘要记录
func (s *Store) GetDepositToken(ctx context.Context, mailboxID string, depHash []byte) (*domain.DepositToken, error) {
	query := s.dialect.rebind(`
		SELECT mailbox_id, dep_hash, revoked, created_at
		FROM deposit_tokens
		WHERE mailbox_id = ? AND dep_hash = ?
	`)

	var token domain.DepositToken
	err := s.db.QueryRowContext(ctx, query, mailboxID, depHash).Scan(
		&token.MailboxID,
		&token.DepHash,
		&token.Revoked,
		&token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDepositTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select deposit token: %w", err)
	}
	return &token, nil
}

// RevokeDepositToken 吊销令牌，只统计真正从未吊销变为已吊销的行
func (s *Store) RevokeDepositToken(ctx context.Context, mailboxID string, depHash []byte) (bool, error) {
	query := s.dialect.rebind(`
		UPDATE deposit_tokens SET revoked = ?
		WHERE mailbox_id = ? AND dep_hash = ? AND revoked = ?
	`)
	res, err := s.db.ExecContext(ctx, query, true, mailboxID, depHash, false)
	if err != nil {
		return false, fmt.Errorf("revoke deposit token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke deposit token: %w", err)
	}
	return n > 0, nil
}

// ========== Message Repository ==========

// QueueBytes 统计投递箱内已存消息体总字节数
func (s *Store) QueueBytes(ctx context.Context, mailboxID string) (int64, error) {
	query := s.dialect.rebind(`SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM messages WHERE mailbox_id = ?`)

	var total int64
	if err := s.db.QueryRowContext(ctx, query, mailboxID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum queue bytes: %w", err)
	}
	return total, nil
}

// InsertMessage 写入消息并回填 SequenceID
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	query := `INSERT INTO messages (mailbox_id, msg_id, payload, received_at, expires_at) VALUES (?, ?, ?, ?, ?)`
	args := []any{msg.MailboxID, msg.MsgID, msg.Blob, msg.ReceivedAt, msg.ExpiresAt}

	if s.dialect.returning {
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(query+` RETURNING sequence_id`), args...).Scan(&msg.SequenceID)
		return s.insertError(err)
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return s.insertError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read sequence id: %w", err)
	}
	msg.SequenceID = id
	return nil
}

func (s *Store) insertError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return storage.ErrDuplicateMessage
	}
	return fmt.Errorf("insert message: %w", err)
}

// ListMessagesAfter 按 sequence_id 升序返回水位之后尚未过期的消息
func (s *Store) ListMessagesAfter(ctx context.Context, mailboxID string, afterSeq, now int64, limit int) ([]domain.Message, error) {
	query := s.dialect.rebind(`
		SELECT sequence_id, mailbox_id, msg_id, payload, received_at, expires_at
		FROM messages
		WHERE mailbox_id = ? AND sequence_id > ? AND expires_at > ?
		ORDER BY sequence_id ASC
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, mailboxID, afterSeq, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, limit)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.SequenceID,
			&msg.MailboxID,
			&msg.MsgID,
			&msg.Blob,
			&msg.ReceivedAt,
			&msg.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// DeleteMessage 删除指定消息，返回删除行数
func (s *Store) DeleteMessage(ctx context.Context, mailboxID string, msgID []byte) (int64, error) {
	query := s.dialect.rebind(`DELETE FROM messages WHERE mailbox_id = ? AND msg_id = ?`)
	res, err := s.db.ExecContext(ctx, query, mailboxID, msgID)
	if err != nil {
		return 0, fmt.Errorf("delete message: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredMessages 删除所有 expires_at <= now 的消息
func (s *Store) DeleteExpiredMessages(ctx context.Context, now int64) (int64, error) {
	query := s.dialect.rebind(`DELETE FROM messages WHERE expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return res.RowsAffected()
}
