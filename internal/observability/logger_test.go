package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surajit20072003/heygemd/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	// Verify it's valid JSON
	var parsed map[string]any
	err := json.Unmarshal([]byte(output), &parsed)
	require.NoError(t, err)
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug logs at info level", "debug", slog.LevelInfo, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warn logs at warn level", "warn", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
		{"trace logs below debug", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.LoggingConfig{
				Level:  tt.configLevel,
				Format: "json",
			}

			logger := NewLoggerWithWriter(cfg, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		TimeFormat: "2006-01-02",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message")

	today := time.Now().Format("2006-01-02")
	assert.Contains(t, buf.String(), today)
}

func TestNewLogger_RedactsSecrets(t *testing.T) {
	type backendAuth struct {
		Endpoint string
		Password string
		Token    string
	}

	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("backend configured", slog.Any("auth", backendAuth{
		Endpoint: "http://127.0.0.1:8383",
		Password: "hunter2",
		Token:    "tok-abc123",
	}))

	output := buf.String()
	assert.Contains(t, output, "http://127.0.0.1:8383")
	assert.NotContains(t, output, "hunter2")
	assert.NotContains(t, output, "tok-abc123")
}

func TestNewLogger_RedactsTaggedFields(t *testing.T) {
	type creds struct {
		User string
		Key  string `masq:"secret"`
	}

	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("connected", slog.Any("creds", creds{User: "svc", Key: "s3cr3t"}))

	output := buf.String()
	assert.Contains(t, output, "svc")
	assert.NotContains(t, output, "s3cr3t")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	base := NewLoggerWithWriter(cfg, &buf)

	t.Run("WithApp", func(t *testing.T) {
		buf.Reset()
		WithApp(base, "heygemd").Info("m")
		assert.Contains(t, buf.String(), `"app":"heygemd"`)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		WithComponent(base, "scheduler").Info("m")
		assert.Contains(t, buf.String(), `"component":"scheduler"`)
	})

	t.Run("WithOperation", func(t *testing.T) {
		buf.Reset()
		WithOperation(base, "reserve").Info("m")
		assert.Contains(t, buf.String(), `"operation":"reserve"`)
	})

	t.Run("WithTask", func(t *testing.T) {
		buf.Reset()
		WithTask(base, "01J5KQ").Info("m")
		assert.Contains(t, buf.String(), `"task_id":"01J5KQ"`)
	})

	t.Run("WithGPU", func(t *testing.T) {
		buf.Reset()
		WithGPU(base, 1).Info("m")
		assert.Contains(t, buf.String(), `"gpu_id":1`)
	})

	t.Run("WithRequestID", func(t *testing.T) {
		buf.Reset()
		WithRequestID(base, "req-1").Info("m")
		assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	})

	t.Run("WithError", func(t *testing.T) {
		buf.Reset()
		WithError(base, errors.New("boom")).Info("m")
		assert.Contains(t, buf.String(), `"error":"boom"`)
	})

	t.Run("WithError nil", func(t *testing.T) {
		buf.Reset()
		WithError(base, nil).Info("m")
		assert.NotContains(t, buf.String(), `"error"`)
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("logger round trip", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggingConfig{Level: "info", Format: "json"}
		logger := NewLoggerWithWriter(cfg, &buf)

		ctx := ContextWithLogger(context.Background(), logger)
		got := LoggerFromContext(ctx)
		assert.Equal(t, logger, got)
	})

	t.Run("missing logger returns default", func(t *testing.T) {
		got := LoggerFromContext(context.Background())
		assert.NotNil(t, got)
	})

	t.Run("request id round trip", func(t *testing.T) {
		ctx := ContextWithRequestID(context.Background(), "req-42")
		assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	})

	t.Run("missing request id", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	done := TimedOperation(context.Background(), logger, "stage_inputs")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation started")
	assert.Contains(t, output, "operation completed")
	assert.Contains(t, output, "stage_inputs")
	assert.Contains(t, output, "duration")
}

func TestTimedOperationWithError(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggingConfig{Level: "info", Format: "json"}
		logger := NewLoggerWithWriter(cfg, &buf)

		var err error
		done := TimedOperationWithError(context.Background(), logger, "submit", &err)
		done()

		assert.Contains(t, buf.String(), "operation completed")
	})

	t.Run("failure path", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggingConfig{Level: "info", Format: "json"}
		logger := NewLoggerWithWriter(cfg, &buf)

		var err error
		done := TimedOperationWithError(context.Background(), logger, "submit", &err)
		err = errors.New("backend rejected")
		done()

		output := buf.String()
		assert.Contains(t, output, "operation failed")
		assert.Contains(t, output, "backend rejected")
	})
}
