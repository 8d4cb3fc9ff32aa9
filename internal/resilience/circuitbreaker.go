// Package resilience provides circuit breaker and provider failover primitives.
//
// [CircuitBreaker] is a three-state breaker: closed, open, half-open.
// [FallbackGroup] composes multiple instances of any type with per-entry
// circuit breakers so that a failing primary is bypassed in favour of healthy
// fallbacks. [LLMFallback] applies this to [llm.Provider] values and only
// fails over on errors another vendor could plausibly avoid.
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
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the breaker opened.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probe calls. That many
	// successes close the breaker; one failure re-opens it.
	StateHalfOpen
)

// String returns the state name.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every non-nil error. Errors it rejects are still returned to
	// the caller but leave the breaker state untouched.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State State

	// Failures is the current run of consecutive failures while closed.
	Failures int

	// OpenedAt is when the breaker last opened. Zero if it never has.
	OpenedAt time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// probes counts admitted half-open calls; passed counts their successes.
	probes int
	passed int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn if the breaker admits the call and feeds the outcome back
// into the state machine. Rejected calls return [ErrCircuitOpen] without
// running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.enter(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return probe, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)):
		cb.failures++
		if probe || cb.failures >= cb.cfg.MaxFailures {
			cb.enter(StateOpen)
		}
	case err != nil:
		// Not the backend's fault; hand the probe slot back.
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	case probe:
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				cb.enter(StateClosed)
			}
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// enter switches state and resets the per-state counters. cb.mu must be
// held.
func (cb *CircuitBreaker) enter(s State) {
	cb.state = s
	cb.probes, cb.passed = 0, 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
	case StateHalfOpen:
		slog.Info("circuit breaker probing", "name", cb.cfg.Name)
	case StateClosed:
		cb.failures = 0
		slog.Info("circuit breaker closed", "name", cb.cfg.Name)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the effective state. An open breaker whose reset timeout
// has passed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (cb *CircuitBreaker) State() State {
	return cb.Snapshot().State
}

// Snapshot returns the effective state together with the failure counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{State: cb.state, Failures: cb.failures, OpenedAt: cb.openedAt}
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		s.State = StateHalfOpen
	}
	return s
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.enter(StateClosed)
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }
