package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where calls are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and calls are rejected without I/O.
	Open
	// HalfOpen lets trial calls through to test whether the server recovered.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// OpenError is returned by Allow while the circuit is open.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Settings configures a Breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failed calls that trips the circuit.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive successes in HalfOpen that closes it again.
	SuccessThreshold uint32
	// OpenTimeout is how long the circuit stays open before moving to HalfOpen.
	OpenTimeout time.Duration
}

// Breaker guards calls to a single tool server.
// Callers ask Allow before doing I/O and report the outcome with Record.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
}

// New creates a Breaker with the given settings. Zero thresholds default to 1.
func New(name string, s Settings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	return &Breaker{name: name, settings: s, now: time.Now, state: Closed}
}

// State returns the current state, moving Open to HalfOpen once the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	if b.state == Open {
		return &OpenError{Name: b.name, RetryAfter: b.settings.OpenTimeout - b.now().Sub(b.openedAt)}
	}
	return nil
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case HalfOpen:
			b.successes++
			if b.successes >= b.settings.SuccessThreshold {
				b.reset()
			}
		case Closed:
			b.failures = 0
		}
		return
	}

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) advance() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.settings.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

// trip opens the circuit.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}

// reset closes the circuit and resets all counters.
func (b *Breaker) reset() {
	b.state = Closed
	b.failures = 0
	b.successes = 0
}
