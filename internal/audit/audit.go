// Package audit records externally visible actions as JSON lines.
package audit

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrNilWriter is returned by Logger.Log when the logger was constructed
// with a nil writer.
var ErrNilWriter = errors.New("audit logger: writer is nil")

// Entry captures a single action: an MCP tool call, an API request that
// changes state, or a pause the monitor issued on its own.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Params    map[string]any `json:"params"`
	Result    string         `json:"result"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Logger writes Entry records as newline-delimited JSON to an io.Writer.
// It is safe for concurrent use.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogger returns a Logger that writes to w. If w is nil the returned
// logger is also nil; Record on a nil *Logger is a no-op.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		return nil
	}
	return &Logger{w: w}
}

// Log serialises entry as a single JSON line and writes it to the underlying
// writer.
func (l *Logger) Log(entry Entry) error {
	if l == nil || l.w == nil {
		return ErrNilWriter
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	data = append(data, '\n')

	l.mu.Lock()
	_, err = l.w.Write(data)
	l.mu.Unlock()

	return err
}

// Record logs an action that started at start, silently ignoring a nil
// logger and write failures.
func (l *Logger) Record(action, actor string, params map[string]any, result string, start time.Time) {
	if l == nil {
		return
	}
	_ = l.Log(Entry{
		Timestamp: start,
		Action:    action,
		Actor:     actor,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}
