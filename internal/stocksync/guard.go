package stocksync

import (
	"sync"
	"time"
)

// State is the run state of a Guard.
type State int

const (
	// StateIdle means no pass is running.
	StateIdle State = iota
	// StateRunning means a pass holds the guard.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Guard admits at most one pass at a time.
type Guard struct {
	mu    sync.Mutex
	state State
	since time.Time
}

// TryAcquire moves the guard from idle to running. It returns false, and
// changes nothing, when a pass is already running.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateRunning {
		return false
	}
	g.state = StateRunning
	g.since = time.Now()
	return true
}

// Release moves the guard back to idle.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = StateIdle
	g.since = time.Time{}
}

// State returns the current state and, when running, when the pass started.
func (g *Guard) State() (State, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.since
}

// Running reports whether a pass holds the guard.
func (g *Guard) Running() bool {
	s, _ := g.State()
	return s == StateRunning
}
