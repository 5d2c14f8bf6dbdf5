package playback

import (
	"fmt"
	"time"

	"github.com/eternallink/arlink/internal/queue"
)

// DefaultDebugLogSize is the number of diagnostic lines kept in memory.
const DefaultDebugLogSize = 200

// DebugEntry is one diagnostic line.
type DebugEntry struct {
	At   time.Time
	Text string
}

func (e DebugEntry) String() string {
	return e.At.Format("15:04:05.000") + " " + e.Text
}

// DebugLog keeps the most recent playback diagnostics. It is never
// written to disk.
type DebugLog struct {
	ring *queue.Ring[DebugEntry]
	now  func() time.Time
}

// NewDebugLog creates a log holding at most size entries.
func NewDebugLog(size int) *DebugLog {
	if size <= 0 {
		size = DefaultDebugLogSize
	}
	return &DebugLog{ring: queue.New[DebugEntry](size), now: time.Now}
}

// Addf appends a formatted line, evicting the oldest if full.
func (l *DebugLog) Addf(format string, args ...any) {
	l.ring.Push(DebugEntry{At: l.now(), Text: fmt.Sprintf(format, args...)})
}

// Entries returns the retained entries, oldest first.
func (l *DebugLog) Entries() []DebugEntry {
	return l.ring.Items()
}

// Lines returns the retained entries formatted for display.
func (l *DebugLog) Lines() []string {
	entries := l.ring.Items()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

// Len returns the number of retained entries.
func (l *DebugLog) Len() int {
	return l.ring.Len()
}
