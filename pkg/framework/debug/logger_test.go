package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	t.Run("BasicLogging", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatText, LogLevelInfo).With("component", "test")

		logger.Info("Hello %s", "World")

		output := buf.String()
		if !strings.Contains(output, "level=INFO") {
			t.Errorf("Missing log level: %s", output)
		}
		if !strings.Contains(output, "component=test") {
			t.Errorf("Missing attribute: %s", output)
		}
		if !strings.Contains(output, "Hello World") {
			t.Errorf("Missing message: %s", output)
		}
	})

	t.Run("LogLevels", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatText, LogLevelInfo)
		logger.SetLevel(LogLevelWarn)

		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
		logger.Error("error message")

		output := buf.String()
		if strings.Contains(output, "debug message") {
			t.Error("Debug message should not be logged")
		}
		if strings.Contains(output, "info message") {
			t.Error("Info message should not be logged")
		}
		if !strings.Contains(output, "warn message") {
			t.Error("Warn message should be logged")
		}
		if !strings.Contains(output, "error message") {
			t.Error("Error message should be logged")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatText, LogLevelDebug)
		logger.SetEnabled(false)
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Error("Disabled logger should not write")
		}

		Discard().Error("dropped")
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatJSON, LogLevelDebug)
		logger.With("generation", 3).Debug("activated")

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("Output is not JSON: %v (%s)", err, buf.String())
		}
		if rec["msg"] != "activated" || rec["generation"] != float64(3) {
			t.Errorf("Unexpected record %v", rec)
		}
	})

	t.Run("WithSharesLevel", func(t *testing.T) {
		var buf bytes.Buffer
		parent := New(&buf, FormatText, LogLevelInfo)
		child := parent.With("k", "v")
		parent.SetLevel(LogLevelError)
		child.Info("hidden")
		if buf.Len() > 0 {
			t.Error("Child should follow the parent's level")
		}
	})

	t.Run("Context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatText, LogLevelInfo)
		ctx := WithLogger(context.Background(), logger)
		if FromContext(ctx) != logger {
			t.Error("FromContext should return the stored logger")
		}
		if FromContext(context.Background()) != Default() {
			t.Error("FromContext should fall back to the default logger")
		}
		if OrDefault(nil) != Default() || OrDefault(logger) != logger {
			t.Error("OrDefault mismatch")
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"off", LogLevelOff, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelDebug, "debug"},
		{LogLevelInfo, "info"},
		{LogLevelWarn, "warn"},
		{LogLevelError, "error"},
		{LogLevelOff, "off"},
		{LogLevel(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
		}
	}
}

func BenchmarkLogger(b *testing.B) {
	logger := New(bytes.NewBuffer(nil), FormatText, LogLevelInfo)

	b.Run("Enabled", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			logger.Info("Benchmark message %d", i)
		}
	})

	b.Run("BelowLevel", func(b *testing.B) {
		logger.SetLevel(LogLevelError)
		for i := 0; i < b.N; i++ {
			logger.Info("Benchmark message %d", i)
		}
	})
}
