package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger уровневый логгер со структурированными полями
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger создает логгер, пишущий в stdout
func NewLogger(levelStr string) *Logger {
	return NewLoggerTo(os.Stdout, levelStr)
}

// NewLoggerTo создает логгер с произвольным writer (тесты, файлы)
func NewLoggerTo(w io.Writer, levelStr string) *Logger {
	lv := &slog.LevelVar{}
	lv.Set(parseLevel(levelStr).slog())
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{level: lv, logger: slog.New(handler)}
}

// Nop логгер, который ничего не пишет
func Nop() *Logger {
	return NewLoggerTo(io.Discard, "error")
}

func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel меняет уровень на лету
func (l *Logger) SetLevel(levelStr string) {
	l.level.Set(parseLevel(levelStr).slog())
}

// With возвращает логгер с постоянными полями
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{level: l.level, logger: l.logger.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.logger.Debug(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.logger.Info(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.logger.Warn(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...any) {
	l.logger.Error(msg, kv...)
}

// Slog отдает базовый *slog.Logger для библиотек
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}
