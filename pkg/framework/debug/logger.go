// Package debug provides logging, profiling and buffer analysis for the
// non-real-time side of the plugin. Nothing here may be called from the
// audio goroutine.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelOff disables all logging.
	LogLevelOff
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name as used in configuration files.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "off", "none":
		return LogLevelOff, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	case LogLevelOff:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logger is a leveled printf-style logger backed by a slog handler.
// Structured attributes are attached with With.
type Logger struct {
	level   *slog.LevelVar
	enabled *atomic.Bool
	sl      *slog.Logger
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, FormatText, LogLevelInfo))
}

// New creates a logger writing text or JSON records to output.
func New(output io.Writer, format string, level LogLevel) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slog())
	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	enabled := new(atomic.Bool)
	enabled.Store(level != LogLevelOff)
	return &Logger{level: lv, enabled: enabled, sl: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, FormatText, LogLevelOff)
}

// With returns a logger that adds the given key/value pairs to every
// record. The level is shared with the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{level: l.level, enabled: l.enabled, sl: l.sl.With(args...)}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slog())
	l.enabled.Store(level != LogLevelOff)
}

// SetEnabled enables or disables the logger.
func (l *Logger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// IsEnabled returns whether the logger is enabled.
func (l *Logger) IsEnabled() bool {
	return l.enabled.Load()
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	if !l.enabled.Load() {
		return
	}
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	l.sl.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}

func Debug(format string, args ...any) {
	Default().Debug(format, args...)
}

func Info(format string, args ...any) {
	Default().Info(format, args...)
}

func Warn(format string, args ...any) {
	Default().Warn(format, args...)
}

func Error(format string, args ...any) {
	Default().Error(format, args...)
}

type loggerKey struct{}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
