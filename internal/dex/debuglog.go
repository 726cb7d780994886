package dex

import (
	"fmt"
	"sync"
	"time"

	"github.com/gateway-fm/dexkit/pkg/types"
)

// DefaultMaxLogLines bounds the debug log; older lines are dropped first.
const DefaultMaxLogLines = 2000

// DebugLog is the session's human-readable action log. Subscribers get
// every appended line; a subscriber that falls behind misses lines rather
// than blocking the action that wrote them.
type DebugLog struct {
	mu       sync.Mutex
	lines    []types.LogLine
	seq      int64
	max      int
	subs     map[chan types.LogLine]struct{}
	onAppend func()
	now      func() time.Time
}

// NewDebugLog creates a log holding at most max lines.
func NewDebugLog(max int) *DebugLog {
	if max <= 0 {
		max = DefaultMaxLogLines
	}
	return &DebugLog{
		max:  max,
		subs: make(map[chan types.LogLine]struct{}),
		now:  time.Now,
	}
}

// Printf appends a formatted line.
func (l *DebugLog) Printf(format string, args ...any) {
	l.mu.Lock()
	l.seq++
	line := types.LogLine{Seq: l.seq, Time: l.now(), Text: fmt.Sprintf(format, args...)}
	l.lines = append(l.lines, line)
	if len(l.lines) > l.max {
		l.lines = append(l.lines[:0], l.lines[len(l.lines)-l.max:]...)
	}
	for ch := range l.subs {
		select {
		case ch <- line:
		default:
		}
	}
	hook := l.onAppend
	l.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Lines returns a copy of the retained lines, oldest first.
func (l *DebugLog) Lines() []types.LogLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.LogLine, len(l.lines))
	copy(out, l.lines)
	return out
}

// Len returns the number of retained lines.
func (l *DebugLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// Clear drops every retained line. Sequence numbers keep increasing.
func (l *DebugLog) Clear() {
	l.mu.Lock()
	l.lines = nil
	l.mu.Unlock()
}

// Subscribe returns a channel of new lines and a function that ends the
// subscription and closes the channel.
func (l *DebugLog) Subscribe(buffer int) (<-chan types.LogLine, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.LogLine, buffer)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (l *DebugLog) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
