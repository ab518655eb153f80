package jobs

import (
	"sync"
	"time"
)

// DefaultLogBufferChars is the default total-character budget for a job's
// log buffer.
const DefaultLogBufferChars = 16 * 1024

// LogEntry is one timestamped diagnostic line captured from the anonymizer
// process.
type LogEntry struct {
	Time time.Time `json:"ts"`
	Line string    `json:"line"`
}

// LogBuffer is a bounded, append-only sequence of timestamped lines.
//
// The buffer tracks a running total of line characters. Once the total
// exceeds the budget, the oldest entries are evicted first until the buffer
// is back under budget. LogBuffer is safe for concurrent use.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	size    int
	entries []LogEntry
}

// NewLogBuffer creates a buffer with the given character budget.
// A budget <= 0 uses DefaultLogBufferChars.
func NewLogBuffer(maxChars int) *LogBuffer {
	if maxChars <= 0 {
		maxChars = DefaultLogBufferChars
	}
	return &LogBuffer{max: maxChars}
}

// Append records a line at the given timestamp, evicting oldest entries as
// needed to stay under the character budget. A single line larger than the
// whole budget leaves the buffer holding just that line.
func (b *LogBuffer) Append(ts time.Time, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, LogEntry{Time: ts, Line: line})
	b.size += len(line)

	for b.size > b.max && len(b.entries) > 1 {
		b.size -= len(b.entries[0].Line)
		b.entries = b.entries[1:]
	}
}

// Snapshot returns a copy of the current entries in append order.
func (b *LogBuffer) Snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the current entry count.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Chars returns the current total character count.
func (b *LogBuffer) Chars() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
