package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/storage"
	"deaddrop/backend/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := config.DatabaseConfig{
		Type:            "sqlite",
		DSN:             "file:" + filepath.Join(t.TempDir(), "mailbox.db"),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
	}
	s, err := NewStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	assert.Equal(t, "sqlite", s.Driver())
}

func TestSQLiteStore_CreateMailboxTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mb := &domain.Mailbox{MailboxID: "mb", PollHash: make([]byte, 32), CreatedAt: 1}
	require.NoError(t, s.CreateMailbox(ctx, mb))
	assert.ErrorIs(t, s.CreateMailbox(ctx, mb), storage.ErrMailboxExists)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	cfg := config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:", MaxOpenConns: 10, MaxIdleConns: 5}
	s, err := NewStore(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Stats().MaxOpenConnections)
	require.NoError(t, s.CreateMailbox(context.Background(), &domain.Mailbox{MailboxID: "mb", PollHash: make([]byte, 32), CreatedAt: 1}))
	_, err = s.GetMailbox(context.Background(), "mb")
	assert.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("不支持的驱动", func(t *testing.T) {
		_, err := Open(context.Background(), config.DatabaseConfig{Type: "oracle", DSN: "x"})
		assert.Error(t, err)
	})

	t.Run("缺少DSN", func(t *testing.T) {
		_, err := Open(context.Background(), config.DatabaseConfig{Type: "sqlite"})
		assert.Error(t, err)
	})
}
