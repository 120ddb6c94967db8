package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

var (
	disabled atomic.Bool
	logger   atomic.Pointer[slog.Logger]
)

func init() {
	logger.Store(newLogger(os.Stdout, slog.LevelInfo, false))
}

// Setup replaces the process logger. level is one of debug, info, warn, error.
// json selects machine-readable output; otherwise a colored console handler is used.
func Setup(level string, json bool) {
	logger.Store(newLogger(os.Stdout, parseLevel(level), json))
}

// SetOutput redirects logs, mostly for tests.
func SetOutput(w io.Writer, level string) {
	logger.Store(newLogger(w, parseLevel(level), true))
}

func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	if json {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

func emit(level slog.Level, msg string) {
	if disabled.Load() {
		return
	}
	logger.Load().Log(context.Background(), level, msg)
}

// Info logs an info message
func Info(v ...any) { emit(slog.LevelInfo, fmt.Sprint(v...)) }

// Infof logs a formatted info message
func Infof(format string, v ...any) { emit(slog.LevelInfo, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...any) { emit(slog.LevelWarn, fmt.Sprint(v...)) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) { emit(slog.LevelWarn, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...any) { emit(slog.LevelError, fmt.Sprint(v...)) }

// Errorf logs a formatted error message
func Errorf(format string, v ...any) { emit(slog.LevelError, fmt.Sprintf(format, v...)) }

// Debug logs a debug message
func Debug(v ...any) { emit(slog.LevelDebug, fmt.Sprint(v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) { emit(slog.LevelDebug, fmt.Sprintf(format, v...)) }
