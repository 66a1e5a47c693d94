package testutil

import (
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/mock"
)

type MockLoggerSink struct {
	mock.Mock
}

// NewMockLoggerSink returns a sink that accepts every log entry at every verbosity.
// Tests add expectations for the entries they care about with On("Error", ...) or On("Info", ...)
// followed by AllowAnyEntries().
func NewMockLoggerSink() *MockLoggerSink {
	m := &MockLoggerSink{}
	m.On("Init", mock.Anything).Maybe()
	m.On("Enabled", mock.Anything).Return(true).Maybe()
	m.On("WithName", mock.Anything).Return(m).Maybe()
	m.On("WithValues", mock.Anything).Return(m).Maybe()
	return m
}

// AllowAnyEntries accepts log entries that did not match a more specific expectation.
// Must be called after the specific expectations are set up.
func (m *MockLoggerSink) AllowAnyEntries() *MockLoggerSink {
	m.On("Error", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Info", mock.Anything, mock.Anything, mock.Anything).Maybe()
	return m
}

func (m *MockLoggerSink) Enabled(level int) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockLoggerSink) Error(err error, msg string, keysAndValues ...interface{}) {
	m.Called(err, msg, keysAndValues)
}

func (m *MockLoggerSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.Called(level, msg, keysAndValues)
}

func (m *MockLoggerSink) Init(info logr.RuntimeInfo) {
	m.Called(info)
}

func (m *MockLoggerSink) WithName(name string) logr.LogSink {
	args := m.Called(name)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	args := m.Called(keysAndValues)
	return args.Get(0).(logr.LogSink)
}

var _ logr.LogSink = (*MockLoggerSink)(nil)
