// Package logger provides the structured logging abstraction used by go-grbl.
//
// Sessions, links and the simulator log through the Logger interface, so an
// application can plug in its own logging framework. Three backends ship with the
// package: a log/slog backend (JSON output, or a human-readable console output
// when ENV=development), a logrus backend and a zap backend.
//
// Log Levels:
//
//   - DebugLevel:  Wire traffic and poller noise, usually disabled in production.
//   - InfoLevel:  Connection lifecycle and job milestones.
//   - WarnLevel:  Recoverable problems such as malformed status reports.
//   - ErrorLevel:  Controller errors, alarms and link failures.
//   - FatalLevel:  Critical errors that cause program termination.
package logger

import (
	"fmt"
	"strings"
)

// LogLevel indicates the logging severity level.
type LogLevel = int8

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines a common interface for logging.
type Logger interface {
	// Debug logs a message at DebugLevel.
	// The message includes any fields passed at the log site, as well as any fields accumulated on the logger.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel.
	//
	// The logger then calls os.Exit(1), even if logging at FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger and adds structured context to it.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() LogLevel
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level LogLevel)
}

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}

	return InfoLevel, fmt.Errorf("logger: unknown level %q", s)
}
