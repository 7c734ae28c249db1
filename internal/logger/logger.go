// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// The text format wraps the standard log package; the json format renders each line through zap.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// ParseLevel converts a level name into a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	logger *log.Logger
	zap    *zap.Logger
	closer io.Closer
}

var (
	mu sync.RWMutex
	// Global logger instance
	defaultLogger *Logger
)

// Init initializes the default logger with the specified level and format.
// If file is not empty, output is written to the file as well as stderr.
func Init(level, format, file string) error {
	l := &Logger{level: ParseLevel(level)}

	var out io.Writer = os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		l.closer = f
	}

	if strings.ToLower(format) == "json" {
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(out),
			zapLevel(l.level),
		)
		l.zap = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	} else {
		l.logger = log.New(out, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	}

	mu.Lock()
	prev := defaultLogger
	defaultLogger = l
	mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return nil
}

// SetOutput directs text-format logging to w. Used by tests to capture output.
func SetOutput(w io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = &Logger{level: level, logger: log.New(w, "", 0)}
}

// Sync flushes buffered output and closes the log file, if any.
func Sync() {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		l.close()
	}
}

func (l *Logger) close() {
	if l.zap != nil {
		_ = l.zap.Sync()
	}
	if l.closer != nil {
		_ = l.closer.Close()
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.UTC().Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func output(level Level, tag, format string, args ...interface{}) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil || l.level > level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.zap != nil {
		switch level {
		case DebugLevel:
			l.zap.Debug(msg)
		case InfoLevel:
			l.zap.Info(msg)
		case WarnLevel:
			l.zap.Warn(msg)
		default:
			l.zap.Error(msg)
		}
		return
	}
	_ = l.logger.Output(3, "["+tag+"] "+msg)
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	output(DebugLevel, "DEBUG", format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	output(InfoLevel, "INFO", format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	output(WarnLevel, "WARN", format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	output(ErrorLevel, "ERROR", format, args...)
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		log.Fatalf("[FATAL] "+format, args...)
	}
	output(ErrorLevel, "FATAL", format, args...)
	l.close()
	os.Exit(1)
}
