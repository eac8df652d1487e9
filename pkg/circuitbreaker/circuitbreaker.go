package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// Closed allows requests through.
	Closed State = iota
	// Open blocks requests after the failure threshold trips.
	Open
	// HalfOpen lets trial requests through to check whether the backend recovered.
	HalfOpen
)

// String returns the state name.
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

// ErrCircuitOpen is returned while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls against a failing downstream.
type CircuitBreaker interface {
	// Execute runs req unless the circuit is open.
	Execute(req func() (interface{}, error)) (interface{}, error)
	// State returns the current state.
	State() State
}

// Settings configures a breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again.
	SuccessThreshold uint32
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

// New creates a closed CircuitBreaker with the given settings.
func New(settings Settings) CircuitBreaker {
	return &breaker{settings: settings, state: Closed}
}

type breaker struct {
	settings Settings

	mutex                sync.Mutex
	state                State
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	openedAt             time.Time
}

// State returns the current state.
func (cb *breaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Execute wraps req with the breaker logic.
func (cb *breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	cb.mutex.Lock()
	if cb.state == Open {
		if time.Since(cb.openedAt) <= cb.settings.Timeout {
			cb.mutex.Unlock()
			return nil, ErrCircuitOpen
		}
		cb.state = HalfOpen
		cb.consecutiveSuccesses = 0
	}
	cb.mutex.Unlock()

	res, err := req()
	if err != nil {
		cb.onFailure()
		// The partial result is passed through so callers can still
		// inspect e.g. an HTTP response counted as a failure.
		return res, err
	}
	cb.onSuccess()
	return res, nil
}

func (cb *breaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.settings.SuccessThreshold {
			cb.state = Closed
			cb.consecutiveFailures = 0
		}
	case Closed:
		cb.consecutiveFailures = 0
	}
}

func (cb *breaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.trip()
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.settings.FailureThreshold {
			cb.trip()
		}
	}
}

// trip opens the circuit. Assumes the mutex is held.
func (cb *breaker) trip() {
	cb.state = Open
	cb.openedAt = time.Now()
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}
