package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus entry to the Logger interface.
type LogrusLogger struct {
	entry *logrus.Entry
}

var _ Logger = (*LogrusLogger)(nil)

// NewLogrus creates a logrus backed logger writing text records to w.
func NewLogrus(w io.Writer, level LogLevel) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(toLogrusLevel(level))

	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(msg string, keysAndValues ...any) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, keysAndValues ...any) {
	l.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, keysAndValues ...any) {
	l.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, keysAndValues ...any) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

func (l *LogrusLogger) Fatal(msg string, keysAndValues ...any) {
	l.entry.WithFields(toFields(keysAndValues)).Fatal(msg)
}

func (l *LogrusLogger) With(keyValues ...any) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toFields(keyValues))}
}

func (l *LogrusLogger) Level() LogLevel {
	switch l.entry.Logger.GetLevel() {
	case logrus.TraceLevel, logrus.DebugLevel:
		return DebugLevel
	case logrus.InfoLevel:
		return InfoLevel
	case logrus.WarnLevel:
		return WarnLevel
	case logrus.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (l *LogrusLogger) SetLevel(level LogLevel) {
	l.entry.Logger.SetLevel(toLogrusLevel(level))
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

// toFields converts alternating key/value pairs into logrus fields.
// A dangling key is recorded under "!BADKEY", like slog does.
func toFields(kv []any) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || i+1 >= len(kv) {
			fields["!BADKEY"] = kv[i]
			continue
		}
		fields[key] = kv[i+1]
	}

	return fields
}
