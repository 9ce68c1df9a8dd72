package model

import (
	"fmt"
	"sync"
)

// TestLogger is a [Logger] that records the lines it emits. It is
// safe for concurrent use.
type TestLogger struct {
	mu    sync.Mutex
	Lines []string
}

func (tl *TestLogger) append(msg string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.Lines = append(tl.Lines, msg)
}

func (tl *TestLogger) Debug(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Debugf(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}
func (tl *TestLogger) Info(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Infof(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}
func (tl *TestLogger) Warn(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Warnf(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}

// Snapshot returns a copy of the recorded lines.
func (tl *TestLogger) Snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string{}, tl.Lines...)
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		Lines: make([]string, 0),
	}
}
