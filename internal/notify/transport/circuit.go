package transport

import (
	"sync"

	"memberdeals-notifications/internal/common/metrics"
)

// State is the primary-transport circuit state. There is no automatic
// recovery: Blocked is sticky until an explicit administrative Reset.
type State string

const (
	StateReady   State = "ready"
	StateBlocked State = "blocked"
)

// Event is a circuit transition trigger.
type Event string

const (
	EventTimeout Event = "timeout"
	EventReset   Event = "reset"
)

// Next is the pure transition function. Only a timeout blocks, only a reset
// unblocks; every other combination keeps the current state.
func Next(s State, e Event) State {
	switch {
	case s == StateReady && e == EventTimeout:
		return StateBlocked
	case e == EventReset:
		return StateReady
	default:
		return s
	}
}

// Breaker holds the process-wide circuit state for one outbound channel.
type Breaker struct {
	mu    sync.Mutex
	state State
}

func NewBreaker() *Breaker {
	return &Breaker{state: StateReady}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Blocked reports whether primary sends are currently bypassed.
func (b *Breaker) Blocked() bool {
	return b.State() == StateBlocked
}

// TripOnTimeout applies the timeout event. Returns true when the state
// changed, i.e. this call is the one that blocked the circuit.
func (b *Breaker) TripOnTimeout() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.state = Next(b.state, EventTimeout)
	if b.state == StateBlocked {
		metrics.CircuitBlocked.Set(1)
	}
	return prev != b.state
}

// Reset re-arms the primary transport. Administrative action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Next(b.state, EventReset)
	metrics.CircuitBlocked.Set(0)
}
