package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expectedLogger := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expectedLogger)

		actualLogger := FromContext(ctx)

		require.NotNil(t, actualLogger)
		assert.Equal(t, expectedLogger, actualLogger)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		logger := FromContext(t.Context())

		require.NotNil(t, logger)
		logger.Info("test message from default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")

		logger := FromContext(ctx)

		require.NotNil(t, logger)
		logger.Info("test message from fallback logger")
	})
}

func TestLoggerOutput(t *testing.T) {
	t.Run("Should write structured key values", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DebugLevel, Output: &buf})

		log.Info("integration stored", "user_id", "u1", "tool", "slack")

		out := buf.String()
		assert.True(t, strings.Contains(out, "integration stored"))
		assert.True(t, strings.Contains(out, "u1"))
	})

	t.Run("Should honor level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: ErrorLevel, Output: &buf})

		log.Debug("hidden")
		log.Error("visible")

		out := buf.String()
		assert.False(t, strings.Contains(out, "hidden"))
		assert.True(t, strings.Contains(out, "visible"))
	})

	t.Run("Should emit JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

		log.Info("hello", "k", "v")

		assert.True(t, strings.Contains(buf.String(), `"msg":"hello"`))
	})
}
