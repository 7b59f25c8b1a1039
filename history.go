package connkit

import (
	"sync"
	"time"
)

// historySize is how many recent action labels a connection retains.
const historySize = 5

// Action is one entry in a connection's action history.
type Action struct {
	Label string
	At    time.Time
}

// actionLog is a bounded trail of the most recent actions performed on a
// connection. It has its own lock, independent of the connection's state
// mutex, so reading the trail never blocks behind an in-flight operation
// and a reader never observes a partially-updated list. The lock is held
// only for the append or copy, never across I/O.
type actionLog struct {
	mu      sync.Mutex
	entries []Action
}

func (l *actionLog) record(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Action{Label: label, At: time.Now()})
	if len(l.entries) > historySize {
		l.entries = l.entries[len(l.entries)-historySize:]
	}
}

// last returns the most recent action, if any.
func (l *actionLog) last() (Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Action{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// snapshot returns a copy of the trail, oldest first.
func (l *actionLog) snapshot() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Action, len(l.entries))
	copy(out, l.entries)
	return out
}
