// Package stats keeps a bounded, fixed-capacity log of recent allocator
// events for diagnostics: the last N Allocate/Release calls an Allocator
// made, available without reaching into the allocator's own free-list
// state. It is entirely optional; nothing in package buddy depends on it.
package stats

import (
	"time"

	"github.com/cloudwego/gopkg/container/ring"

	"github.com/go-buddy/allocator/block"
)

// EventKind distinguishes the two events a Log records.
type EventKind uint8

const (
	EventAllocate EventKind = iota
	EventRelease
)

func (k EventKind) String() string {
	if k == EventRelease {
		return "release"
	}
	return "allocate"
}

// Event is one recorded allocator call. Size is the caller-requested
// payload size for EventAllocate and the returned slice's length for
// EventRelease; Rank is the block rank that served or held it. Ok is
// false for an EventAllocate that returned nil.
type Event struct {
	Kind EventKind
	Size int
	Rank block.Rank
	Ok   bool
	At   time.Time
}

// Log is a fixed-capacity circular log of the most recent Events. Writes
// never allocate once the log reaches capacity: the oldest Event is
// overwritten in place.
type Log struct {
	r    *ring.Ring[Event]
	next int
	n    int // number of events currently held, at most r.Len()
}

// NewLog returns a Log holding up to capacity Events. capacity must be
// positive.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		panic("stats: capacity must be positive")
	}
	return &Log{r: ring.NewFromSlice(make([]Event, capacity))}
}

// Record appends an Event, overwriting the oldest entry once the log is
// full.
func (l *Log) Record(e Event) {
	item, ok := l.r.Get(l.next)
	if !ok {
		return
	}
	*item.Pointer() = e
	l.next++
	if l.next == l.r.Len() {
		l.next = 0
	}
	if l.n < l.r.Len() {
		l.n++
	}
}

// Len returns the number of Events currently held (<= capacity).
func (l *Log) Len() int {
	return l.n
}

// Recent returns the held Events in oldest-to-newest order. The slice is
// a fresh copy; mutating it does not affect the Log.
func (l *Log) Recent() []Event {
	out := make([]Event, 0, l.n)
	cap := l.r.Len()
	start := l.next
	if l.n < cap {
		start = 0
	}
	for i := 0; i < l.n; i++ {
		idx := (start + i) % cap
		item, ok := l.r.Get(idx)
		if !ok {
			continue
		}
		out = append(out, item.Value())
	}
	return out
}
