package logger

import "sync/atomic"

var defLogger atomic.Value

func init() {
	defLogger.Store(loggerHolder{NewSlog(InfoLevel, false)})
}

type loggerHolder struct{ Logger }

func Debug(msg string, keysAndValues ...any) {
	GetLogger().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	GetLogger().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	GetLogger().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	GetLogger().Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	GetLogger().Fatal(msg, keysAndValues...)
}

func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return defLogger.Load().(loggerHolder).Logger
}

// SetLogger replaces the package default logger. A nil logger is ignored.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	defLogger.Store(loggerHolder{l})
}

func With(keyValues ...any) Logger {
	return GetLogger().With(keyValues...)
}
