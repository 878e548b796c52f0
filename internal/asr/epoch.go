package asr

import "time"

// State is one of the five states an epoch moves through, per spec.md §4.3.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// epoch is one underlying provider stream within a session (spec.md §3).
// Exactly one epoch at a time is "current" (accepting writes from the
// Driver's sender loop); a previous epoch lingers in Draining until its
// receiver observes end-of-stream.
type epoch struct {
	index     int
	state     State
	stream    ProviderStream
	startedAt time.Time
	stoppedAt time.Time

	// done is closed once this epoch's receiver loop returns, whatever the
	// outcome (EventEnded, EventError, or driver shutdown).
	done chan struct{}
}

func newEpoch(index int, stream ProviderStream) *epoch {
	return &epoch{
		index:     index,
		state:     StateOpen,
		stream:    stream,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}
