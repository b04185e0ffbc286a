// Package resilience guards the two things a recording depends on: the
// memories service and the microphone backend.
//
// [CircuitBreaker] makes uploads fail fast while the service is known to be
// down. It never replays a call; retrying is always the user's decision.
// [MicrophoneFallback] opens the first capture backend that works, with one
// breaker per backend so a broken backend stops being probed on every start.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while calls are
// being rejected.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the failure that opened it.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig configures a [CircuitBreaker]. Zero fields take the
// defaults noted on each.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default: 30s.
	ResetTimeout time.Duration

	// IsFailure decides whether an error counts against the dependency.
	// Rejected errors pass through and count as a healthy round trip.
	// Default: every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the breaker's
	// lock.
	OnStateChange func(name string, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Logger receives transition logs. Default: slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker is a three-state breaker with a single half-open probe.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it, and returns fn's error
// unchanged. While open, or while another probe is in flight, it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, changed, err := cb.admit()
	cb.notify(changed)
	if err != nil {
		return err
	}

	callErr := fn()
	cb.notify(cb.settle(probe, callErr != nil && cb.cfg.IsFailure(callErr)))
	return callErr
}

// admit decides whether a call may proceed and whether it is the probe.
func (cb *CircuitBreaker) admit() (probe bool, changed *State, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changed = cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			return false, changed, ErrCircuitOpen
		}
		cb.probing = true
		return true, changed, nil
	}
	return false, changed, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe, failed bool) *State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if !failed {
		cb.failures = 0
		if probe {
			return cb.transition(StateClosed)
		}
		return nil
	}

	cb.failures++
	if probe || cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		return cb.transition(StateOpen)
	}
	return nil
}

// transition must be called with cb.mu held. It returns the new state when
// the state actually changed.
func (cb *CircuitBreaker) transition(to State) *State {
	if cb.state == to {
		return nil
	}
	cb.state = to
	if to == StateOpen {
		cb.cfg.Logger.Warn("resilience: circuit opened", "breaker", cb.cfg.Name, "failures", cb.failures)
	} else {
		cb.cfg.Logger.Info("resilience: circuit "+to.String(), "breaker", cb.cfg.Name)
	}
	return &to
}

func (cb *CircuitBreaker) notify(changed *State) {
	if changed != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, *changed)
	}
}

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	cb.probing = false
	changed := cb.transition(StateClosed)
	cb.mu.Unlock()
	cb.notify(changed)
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }
