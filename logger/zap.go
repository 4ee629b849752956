package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap sugared logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _ Logger = (*ZapLogger)(nil)

// NewZap creates a zap backed logger writing console encoded records to w.
func NewZap(w io.Writer, level LogLevel) Logger {
	atomicLevel := zap.NewAtomicLevelAt(toZapLevel(level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), atomicLevel)

	return &ZapLogger{sugar: zap.New(core).Sugar(), level: atomicLevel}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// With shares the level with the parent, so SetLevel on either affects both.
func (l *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{sugar: l.sugar.With(keyValues...), level: l.level}
}

func (l *ZapLogger) Level() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}
