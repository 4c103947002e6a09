// Package circuitbreaker implements a per-endpoint closed/open/half-open
// state machine protecting the RPC transport from cascading failures,
// following spec §4.2's transition rules and the teacher's
// gomind/resilience CircuitBreaker shape (state enum, ErrorClassifier,
// atomic snapshot reads).
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/windrose/conductor/core"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

// Config tunes breaker thresholds; defaults match spec §4.2.
type Config struct {
	FailThreshold int           // T_fail, default 5
	ResetTimeout  time.Duration // T_reset, default 60s
	ProbeCount    int           // T_probe, default 1
}

func DefaultConfig() Config {
	return Config{FailThreshold: 5, ResetTimeout: 60 * time.Second, ProbeCount: 1}
}

// Breaker is a single endpoint's circuit breaker. Safe for concurrent use:
// many readers check CanExecute/State concurrently, at most one writer
// transitions state at a time (guarded by mu), per spec §5's
// "many concurrent readers via atomic snapshots" shared-resource policy.
type Breaker struct {
	name   string
	cfg    Config
	logger core.Logger

	mu                  sync.Mutex
	state               atomic.Int32
	consecutiveFailures int
	successesInHalfOpen int
	openedAt            time.Time
	// halfOpenClaimed ensures exactly one caller transitions open->half-open
	// per reset window, per spec §4.2's tie-break rule.
	halfOpenClaimed bool
}

// New creates a Breaker for the given endpoint name.
func New(name string, cfg Config, logger core.Logger) *Breaker {
	if cfg.FailThreshold <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger}
	b.state.Store(int32(StateClosed))
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// CanExecute reports whether a call should be allowed through right now,
// performing the open->half-open tie-break transition if the reset window
// has elapsed. Exactly one caller wins the race per spec §4.2; callers
// that lose observe CircuitOpen and fail fast without touching the socket.
func (b *Breaker) CanExecute() bool {
	switch b.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.State() != StateOpen {
			// Someone else already transitioned while we waited for the lock:
			// a lost open->half-open race fails fast.
			return b.State() == StateClosed
		}
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		if b.halfOpenClaimed {
			return false
		}
		b.halfOpenClaimed = true
		b.transitionLocked(StateHalfOpen)
		return true
	default:
		return false
	}
}

// RecordSuccess updates breaker state after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.State() {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.successesInHalfOpen++
		if b.successesInHalfOpen >= b.cfg.ProbeCount {
			b.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure updates breaker state after a failed call. Only
// transport-level Transient failures should ever reach this method —
// application-level "agent rejected" failures must never trip the
// breaker, per spec §4.2.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.State() {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with mu held.
func (b *Breaker) transitionLocked(to State) {
	from := b.State()
	if from == to {
		return
	}
	b.state.Store(int32(to))
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenClaimed = false
		b.successesInHalfOpen = 0
	case StateHalfOpen:
		b.successesInHalfOpen = 0
	case StateClosed:
		b.consecutiveFailures = 0
		b.halfOpenClaimed = false
	}
	b.logger.Info("circuit breaker state transition", map[string]interface{}{
		"endpoint": b.name,
		"from":     from.String(),
		"to":       to.String(),
	})
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
}

// Metrics returns a snapshot for observability.
func (b *Breaker) Metrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"state":                 b.State().String(),
		"consecutive_failures":  b.consecutiveFailures,
		"successes_in_halfopen": b.successesInHalfOpen,
	}
}
