package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelInfo, &buf)

	assert.NotNil(t, logger)
	assert.NotNil(t, logger.logger)
}

func TestSlogLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelDebug, &buf)

	logger.Debug("test debug", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test debug")
	assert.Contains(t, output, "key=value")
}

func TestSlogLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelInfo, &buf)

	logger.Info("test info", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test info")
	assert.Contains(t, output, "key=value")
}

func TestSlogLogger_Warn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelWarn, &buf)

	logger.Warn("test warn", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test warn")
	assert.Contains(t, output, "key=value")
}

func TestSlogLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelError, &buf)

	logger.Error("test error", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test error")
	assert.Contains(t, output, "key=value")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelWarn, &buf)

	logger.Debug("debug message") // should be filtered out
	logger.Info("info message")   // should be filtered out
	logger.Warn("warn message")   // should appear
	logger.Error("error message") // should appear

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestSlogLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLoggerWithFormat(slog.LevelInfo, FormatJSON, &buf)

	logger.Info("json message", "program", "printf")

	output := buf.String()
	assert.Contains(t, output, `"msg":"json message"`)
	assert.Contains(t, output, `"program":"printf"`)
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.LevelInfo, &buf).With("session", "abc")

	logger.Info("tick")

	assert.Contains(t, buf.String(), "session=abc")
}

func TestNop(t *testing.T) {
	var logger Logger = Nop{}
	assert.NotPanics(t, func() {
		logger.Debug("d")
		logger.Info("i", "k", "v")
		logger.Warn("w")
		logger.Error("e")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	assert.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	assert.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
