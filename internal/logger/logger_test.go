package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("无效级别回退到info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)

		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("开发模式启用debug", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "debug", Development: true})
		require.NoError(t, err)

		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "relay.log")

		log, err := NewLogger(Config{Level: "info", File: file})
		require.NoError(t, err)

		log.Info("mailbox created")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "mailbox created")
		assert.Contains(t, string(data), `"logger":"deaddrop"`)
	})
}

func TestNewDevelopmentLogger(t *testing.T) {
	assert.NotNil(t, NewDevelopmentLogger())
}
