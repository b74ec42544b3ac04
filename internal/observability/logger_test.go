package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/config"
)

// -- Test Helper Functions --

// setupTestLogger initializes the global logger to write to a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger restores the singleton between tests.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

// -- Test Cases --

func TestInitializeLogger(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		resetGlobalLogger()
		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "wmr",
			Colors:      config.ColorConfig{Info: "green"},
		}
		buf := setupTestLogger(cfg)

		GetLogger().Named("upstream").Info("Upload request summary.", zap.Int("img_size", 42))
		Sync()

		output := buf.String()
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "wmr.upstream")
		assert.Contains(t, output, "Upload request summary.")
		assert.Contains(t, output, `"img_size": 42`)
	})

	t.Run("should leave uncolored levels plain", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", Colors: config.ColorConfig{Warn: "no-such-color"}})

		GetLogger().Warn("Benefit status unavailable.")
		Sync()
		assert.Contains(t, buf.String(), "\tWARN\t")
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})

		GetLogger().Warn("Trial request failed.", zap.String("p_id", "56"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")
		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "Trial request failed.", logEntry["msg"])
		assert.Equal(t, "56", logEntry["p_id"])
	})

	t.Run("should honour the level", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Info("dropped")
		GetLogger().Debug("dropped too")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "chatty", Format: "json"})

		GetLogger().Debug("dropped")
		GetLogger().Info("kept")
		Sync()
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("should write to a log file in a fresh directory", func(t *testing.T) {
		resetGlobalLogger()
		logFile := filepath.Join(t.TempDir(), "logs", "app.log")

		setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, string(content), `"level":"ERROR"`, "the file sink is always JSON")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		resetGlobalLogger()
		buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"})
		logger1 := GetLogger()

		buf2 := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"})
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test message")
		Sync()

		output := buf1.String()
		assert.True(t, strings.Contains(output, "First"))
		assert.True(t, strings.Contains(output, "test message"))
		assert.False(t, strings.Contains(output, "Second"))
		assert.Empty(t, buf2.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		resetGlobalLogger()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		resetGlobalLogger()
		setupTestLogger(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
