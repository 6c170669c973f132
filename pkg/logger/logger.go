// Package logger provides structured logging for the reconflow application
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fields represents structured log fields
type Fields map[string]interface{}

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

type contextKey string

// TaskIDKey is the context key under which the scheduler stores the task id.
const TaskIDKey contextKey = "task_id"

var defaultLogger = NewLogger(logrus.InfoLevel)

// NewLogger creates a new structured logger. ENV=production selects JSON
// output; anything else gets the text formatter.
func NewLogger(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)

	if os.Getenv("ENV") == "production" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return &Logger{Logger: l}
}

// NewFromLevel creates a logger from a textual level such as "debug" or "warn".
// Unknown levels fall back to info.
func NewFromLevel(level string) *Logger {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	return NewLogger(lvl)
}

// Discard returns a logger that writes nowhere. Used by tests.
func Discard() *Logger {
	l := NewLogger(logrus.PanicLevel)
	l.SetOutput(io.Discard)
	return l
}

// Default returns the package level logger.
func Default() *Logger {
	return defaultLogger
}

// WithContext attaches ctx and, when present, the scheduler task id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	if taskID := ctx.Value(TaskIDKey); taskID != nil {
		entry = entry.WithField("task_id", taskID)
	}

	return entry
}

// WithTool adds tool-specific fields on top of WithContext.
func (l *Logger) WithTool(ctx context.Context, toolName, binary string) *logrus.Entry {
	return l.WithContext(ctx).WithFields(logrus.Fields{
		"tool":   toolName,
		"binary": binary,
	})
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}
