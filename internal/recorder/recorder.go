// Package recorder collects one immutable record per outbound call for the
// debug console.
package recorder

import (
	"sync"
	"time"
)

// DefaultCapacity bounds how many records are retained; older records are
// dropped first.
const DefaultCapacity = 100

// Record describes a single outbound request or runtime invocation.
type Record struct {
	Method    string
	Target    string
	Status    int
	Duration  time.Duration
	Timestamp time.Time
	Err       string
}

// Log is an append-only, concurrency-safe record sink.
type Log struct {
	mu       sync.Mutex
	capacity int
	records  []Record
}

// New creates a log retaining up to capacity records. A capacity of zero or
// less uses DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds a record, evicting the oldest when over capacity.
func (l *Log) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, r)
	if len(l.records) > l.capacity {
		l.records = l.records[len(l.records)-l.capacity:]
	}
}

// Snapshot returns a copy of all retained records, oldest first.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Tail returns a copy of the most recent n records, oldest first.
func (l *Log) Tail(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Len reports how many records are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
