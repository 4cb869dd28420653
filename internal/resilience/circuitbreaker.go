// Package resilience provides the circuit breaker guarding external calls.
//
// The narrative service is the only remote dependency on a player-facing
// verb path, so its client is wrapped in a [CircuitBreaker]: once the
// service starts failing, talk degrades to canned replies immediately
// instead of stalling every request on a timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to decide
	// whether the dependency recovered.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields get defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker open.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is the open-state cooldown before probing resumes.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget in half-open and the number of
	// probe successes required to close again. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker around an unreliable call.
type CircuitBreaker struct {
	name     string
	trip     int
	cooldown time.Duration
	quota    int
	now      func() time.Time // swapped in tests

	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	openedAt  time.Time // when the breaker last tripped
	probes    int       // probe calls admitted this half-open round
	probeWins int       // probe calls that succeeded
}

// NewCircuitBreaker builds a closed breaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     cfg.Name,
		trip:     cfg.MaxFailures,
		cooldown: cfg.ResetTimeout,
		quota:    cfg.HalfOpenMax,
		now:      time.Now,
	}
	if cb.trip <= 0 {
		cb.trip = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.quota <= 0 {
		cb.quota = 3
	}
	return cb
}

// Execute runs fn when the breaker admits the call and folds the outcome
// into the breaker state. While open it returns [ErrCircuitOpen] without
// calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.settle(err)
	return err
}

// admit reports whether a call may proceed, moving open → half-open once
// the cooldown has elapsed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker half-open, probing", "name", cb.name)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.quota {
			return false
		}
		cb.probes++
	}
	return true
}

// settle folds one call outcome into the state machine.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.probeWins++
			if cb.probeWins >= cb.quota {
				cb.state = StateClosed
				cb.failures = 0
				slog.Info("circuit breaker closed after successful probes",
					"name", cb.name)
			}
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.trip {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			slog.Warn("circuit breaker opened",
				"name", cb.name, "consecutive_failures", cb.failures)
		}
	case StateHalfOpen:
		// One failed probe sends the breaker straight back to open.
		cb.state = StateOpen
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reads as half-open; the transition itself lands on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
