package logger

import (
	"github.com/stretchr/testify/mock"
)

type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// AllowAll registers optional expectations for every logging method,
// so the mock can be handed to code whose log output is not under test.
func (m *MockLogger) AllowAll() *MockLogger {
	for _, method := range []string{"Debug", "Info", "Warn", "Error", "Fatal"} {
		m.On(method, mock.Anything, mock.Anything).Maybe()
	}
	m.On("With", mock.Anything).Return(m).Maybe()
	m.On("Level").Return(DebugLevel).Maybe()
	m.On("SetLevel", mock.Anything).Maybe()

	return m
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
}

func (m *MockLogger) Level() LogLevel {
	args := m.Called()
	return args.Get(0).(LogLevel)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues)
	return args.Get(0).(Logger)
}
