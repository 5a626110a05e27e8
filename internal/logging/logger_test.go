package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(999).String())
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.LoggingConfig
		wantErr    string
		wantLevel  LogLevel
		wantCaller bool
	}{
		{
			name:      "stdout",
			cfg:       config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
			wantLevel: InfoLevel,
		},
		{
			name:       "stderr debug shows caller",
			cfg:        config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
			wantLevel:  DebugLevel,
			wantCaller: true,
		},
		{
			name:       "add source shows caller",
			cfg:        config.LoggingConfig{Level: "warn", Output: "stderr", AddSource: true},
			wantLevel:  WarnLevel,
			wantCaller: true,
		},
		{
			name:    "file without path",
			cfg:     config.LoggingConfig{Level: "info", Output: "file"},
			wantErr: "log file path is required",
		},
		{
			name:    "invalid output",
			cfg:     config.LoggingConfig{Level: "info", Output: "syslog"},
			wantErr: "invalid log output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, logger.level)
			assert.Equal(t, tt.wantCaller, logger.out.caller)
		})
	}
}

func TestLoggerFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "askdb.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "file",
		File:   logFile,
	})
	require.NoError(t, err)

	logger.Info("written to disk")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to disk")
}

func TestLoggerWithFieldsJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "info", "json")
	logger.WithSession("s-1").WithStage("generate").WithFields(map[string]interface{}{
		"tables": 3,
	}).Info("context rendered")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "context rendered", entry.Message)
	assert.Equal(t, "s-1", entry.Session)
	assert.Equal(t, "generate", entry.Stage)
	assert.Equal(t, map[string]interface{}{"tables": float64(3)}, entry.Fields)
}

func TestLoggerWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer

	parent := NewWriterLogger(&buf, "info", "json")
	_ = parent.WithField("rows", 10)
	_ = parent.WithStage("validate")
	parent.Info("parent")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Empty(t, entry.Fields)
	assert.Empty(t, entry.Stage)
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "info", "json")
	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(assert.AnError).Info("with error field")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, assert.AnError.Error(), entry.Fields["error"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "warn", "json")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warnf("warn %d", 1)
	logger.ErrorWithErr("error message", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var warnEntry, errorEntry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &warnEntry))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &errorEntry))

	assert.Equal(t, "WARN", warnEntry.Level)
	assert.Equal(t, "warn 1", warnEntry.Message)
	assert.Equal(t, "ERROR", errorEntry.Level)
	assert.Equal(t, "boom", errorEntry.Error)
}

func TestLoggerTextFormatSortsFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "info", "text").WithFields(map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
	})
	logger.Info("text message")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "text message")
	assert.Contains(t, output, "{alpha=a zeta=1}")
}

func TestLoggerTextFormatShowsScope(t *testing.T) {
	var buf bytes.Buffer

	NewWriterLogger(&buf, "info", "text").WithSession("s-1").WithStage("execution").
		ErrorWithErr("statement timed out", errors.New("deadline exceeded"))

	assert.Contains(t, buf.String(), "ERROR [s-1 execution] statement timed out error=deadline exceeded")
}

func TestLoggerTextFormatWithCaller(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "info", "text")
	logger.out.caller = true
	logger.Info("test message")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestNopAndOrNop(t *testing.T) {
	assert.NotPanics(t, func() {
		OrNop(nil).Error("dropped")
		Nop().WithField("k", "v").Info("dropped")
	})

	logger := Nop()
	assert.Same(t, logger, OrNop(logger))
}

func TestTrackStage(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "debug", "json")

	require.NoError(t, TrackStage(logger, "execute", func() error { return nil }))

	err := TrackStage(logger, "execute", func() error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var failed LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &failed))
	assert.Equal(t, "stage failed", failed.Message)
	assert.Equal(t, "execute", failed.Stage)
	assert.Contains(t, failed.Fields, "duration_ms")
	assert.Equal(t, assert.AnError.Error(), failed.Error)
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer

	previous := globalLogger
	t.Cleanup(func() { globalLogger = previous })

	globalLogger = NewWriterLogger(&buf, "info", "text")

	Info("global info")
	Warnf("global %s", "warn")
	ErrorWithErr("global error", assert.AnError)

	output := buf.String()
	assert.Contains(t, output, "global info")
	assert.Contains(t, output, "global warn")
	assert.Contains(t, output, "global error")
	assert.Same(t, globalLogger, GetLogger())
}
