package reqcore

import (
	"sync"
	"time"
)

// CircuitBreakerState is the breaker's current position in the
// closed/open/half-open state machine.
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerOptions configures a CircuitBreaker.
type CircuitBreakerOptions struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerOptions trips after 5 consecutive failures, needs 2
// consecutive successes to fully close again, and waits 30s in the open
// state before probing.
func DefaultCircuitBreakerOptions() *CircuitBreakerOptions {
	return &CircuitBreakerOptions{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker is an optional RetryFeature companion: once a tag's
// consecutive failures reach FailureThreshold, further attempts
// short-circuit until Timeout elapses, then the breaker half-opens and
// requires SuccessThreshold consecutive successes to fully close again.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitBreakerState
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	failures         int
	successes        int
	openedAt         time.Time
}

// NewCircuitBreaker builds a CircuitBreaker from opts (DefaultCircuitBreakerOptions if nil).
func NewCircuitBreaker(opts *CircuitBreakerOptions) *CircuitBreaker {
	if opts == nil {
		opts = DefaultCircuitBreakerOptions()
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: opts.FailureThreshold,
		successThreshold: opts.SuccessThreshold,
		timeout:          opts.Timeout,
	}
}

// CanAttempt reports whether a call is currently allowed. It also performs
// the open-to-half-open transition when Timeout has elapsed.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if now().Sub(cb.openedAt) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful attempt, closing the breaker once
// SuccessThreshold consecutive successes are reached in the half-open
// state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure notes a failed attempt, opening the breaker once
// FailureThreshold consecutive failures accrue (or immediately if a probe
// in the half-open state fails).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = now()
		cb.successes = 0
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = now()
		}
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed with counters cleared.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
}

// CircuitBreakerRegistry lazily creates one CircuitBreaker per tag so
// RetryFeature can keep independent breaker state for each logical
// endpoint/operation name.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerRegistry builds an empty registry.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the CircuitBreaker for tag, creating it from opts on first
// use.
func (r *CircuitBreakerRegistry) Get(tag string, opts *CircuitBreakerOptions) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[tag]; ok {
		return cb
	}
	cb := NewCircuitBreaker(opts)
	r.breakers[tag] = cb
	return cb
}
