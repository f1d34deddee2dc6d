package test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"opsrun/pkg/log"
)

// MockLogger is a shared mock implementation of Logger for testing.
// It captures logged messages for verification and is safe for use from the
// poller goroutine.
type MockLogger struct {
	mu       sync.Mutex
	Messages []string
	Level    slog.Level
}

var _ log.Logger = (*MockLogger)(nil)

// NewMockLogger creates a new MockLogger with the specified level.
func NewMockLogger(level slog.Level) *MockLogger {
	return &MockLogger{
		Messages: []string{},
		Level:    level,
	}
}

// Debug captures debug messages.
func (l *MockLogger) Debug(msg string, args ...any) {
	if l.Level <= slog.LevelDebug {
		l.captureMessage("DEBUG", msg, args...)
	}
}

// Info captures info messages.
func (l *MockLogger) Info(msg string, args ...any) {
	if l.Level <= slog.LevelInfo {
		l.captureMessage("INFO", msg, args...)
	}
}

// Warn captures warn messages.
func (l *MockLogger) Warn(msg string, args ...any) {
	if l.Level <= slog.LevelWarn {
		l.captureMessage("WARN", msg, args...)
	}
}

// Error captures error messages.
func (l *MockLogger) Error(msg string, args ...any) {
	if l.Level <= slog.LevelError {
		l.captureMessage("ERROR", msg, args...)
	}
}

func (l *MockLogger) captureMessage(level, msg string, args ...any) {
	buf := &bytes.Buffer{}
	buf.WriteString(level)
	buf.WriteString(": ")
	buf.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		buf.WriteString(" ")
		buf.WriteString(fmt.Sprint(args[i]))
		buf.WriteString("=")
		buf.WriteString(fmt.Sprintf("%v", args[i+1]))
	}
	l.mu.Lock()
	l.Messages = append(l.Messages, buf.String())
	l.mu.Unlock()
}

// Reset clears all captured messages.
func (l *MockLogger) Reset() {
	l.mu.Lock()
	l.Messages = []string{}
	l.mu.Unlock()
}

// HasMessage checks if any captured message contains the given substring.
func (l *MockLogger) HasMessage(substring string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.Messages {
		if bytes.Contains([]byte(msg), []byte(substring)) {
			return true
		}
	}
	return false
}

// Execution is one observation captured by MockRecorder.
type Execution struct {
	Program  string
	Outcome  string
	Duration time.Duration
}

// PollSession is one finished poll captured by MockRecorder.
type PollSession struct {
	Name    string
	State   string
	Queries int
	Elapsed time.Duration
}

// MockRecorder satisfies both the runner and the poller telemetry contracts.
type MockRecorder struct {
	mu         sync.Mutex
	Executions []Execution
	Polls      []PollSession
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (r *MockRecorder) ObserveExecution(program, outcome string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Executions = append(r.Executions, Execution{Program: program, Outcome: outcome, Duration: duration})
}

func (r *MockRecorder) ObservePoll(name, state string, queries int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Polls = append(r.Polls, PollSession{Name: name, State: state, Queries: queries, Elapsed: elapsed})
}

// LastExecution returns the most recent execution or false if none.
func (r *MockRecorder) LastExecution() (Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Executions) == 0 {
		return Execution{}, false
	}
	return r.Executions[len(r.Executions)-1], true
}

// PollCount returns how many poll sessions were recorded.
func (r *MockRecorder) PollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Polls)
}

// ErrScripted is returned by ScriptedQuery at its configured failure call.
var ErrScripted = errors.New("scripted query failure")

// ScriptedQuery replays a fixed sequence of statuses. Once the script is
// exhausted the last status repeats. FailAt, when positive, makes the
// FailAt-th call (1-based) return ErrScripted.
type ScriptedQuery struct {
	mu       sync.Mutex
	Statuses []string
	FailAt   int
	Delay    time.Duration
	calls    int
	times    []time.Time
}

// NewScriptedQuery returns a query reporting running n times, then final.
func NewScriptedQuery(running string, n int, final string) *ScriptedQuery {
	statuses := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		statuses = append(statuses, running)
	}
	return &ScriptedQuery{Statuses: append(statuses, final)}
}

// Query matches the poller's zero-argument status query signature.
func (q *ScriptedQuery) Query() (string, error) {
	if q.Delay > 0 {
		time.Sleep(q.Delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.times = append(q.times, time.Now())
	if q.FailAt > 0 && q.calls == q.FailAt {
		return "", ErrScripted
	}
	if len(q.Statuses) == 0 {
		return "", nil
	}
	i := q.calls - 1
	if i >= len(q.Statuses) {
		i = len(q.Statuses) - 1
	}
	return q.Statuses[i], nil
}

// Calls returns how many times Query ran.
func (q *ScriptedQuery) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// CallTimes returns when each Query call happened.
func (q *ScriptedQuery) CallTimes() []time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Time(nil), q.times...)
}
