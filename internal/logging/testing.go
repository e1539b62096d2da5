package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger captures entries in memory.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a debug-level logger backed by an observer core.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(zapcore.DebugLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: observed}
}

// All returns every captured entry.
func (tl *TestLogger) All() []observer.LoggedEntry {
	return tl.observed.All()
}

// FilterMessage returns entries whose message equals msg.
func (tl *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return tl.observed.FilterMessage(msg)
}

// AssertLogged fails t unless an entry at level contains msg.
func (tl *TestLogger) AssertLogged(t testing.TB, level zapcore.Level, msg string) {
	t.Helper()
	for _, e := range tl.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	t.Errorf("expected %s log containing %q, got %d entries", level, msg, tl.observed.Len())
}

// AssertField fails t unless some entry carries key with value.
func (tl *TestLogger) AssertField(t testing.TB, key string, value interface{}) {
	t.Helper()
	for _, e := range tl.observed.All() {
		if v, ok := e.ContextMap()[key]; ok && v == value {
			return
		}
	}
	t.Errorf("expected a log entry with %s=%v", key, value)
}
