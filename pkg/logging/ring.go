// Package logging provides the per-run log ring buffer and its bridge to the
// process logger and the durable log sink.
package logging

import (
	"sync"
	"time"
)

// Log levels for run log lines.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARNING"
	LevelError = "ERROR"
)

// Line is one run log entry.
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Ring is a bounded FIFO buffer of log lines. Once full, appending evicts the
// oldest line. Safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	lines []Line
	cap   int
}

// DefaultRingCapacity matches the operator-visible history kept per run.
const DefaultRingCapacity = 100

// NewRing creates a ring buffer holding at most capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{cap: capacity}
}

// Append adds a line, evicting the oldest when the buffer is full.
func (r *Ring) Append(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lines) == r.cap {
		copy(r.lines, r.lines[1:])
		r.lines[len(r.lines)-1] = line
		return
	}
	r.lines = append(r.lines, line)
}

// Last returns up to n of the most recent lines, oldest first.
func (r *Ring) Last(n int) []Line {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]Line, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lines)
}

// Clear discards all buffered lines.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
