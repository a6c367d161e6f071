package httpclient

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows all requests.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerStats is a point-in-time view of the breaker counters.
type CircuitBreakerStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	Rejected            int64     `json:"rejected"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
}

// CircuitBreaker trips after a run of consecutive failures and stays open
// for a timeout before admitting probe requests.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold   int
	timeout     time.Duration
	halfOpenMax int

	state       CircuitState
	failures    int
	openedAt    time.Time
	lastFailure time.Time
	probes      int

	successes int64
	total     int64
	rejected  int64

	now func() time.Time
}

// NewCircuitBreaker creates a breaker. A threshold <= 0 disables tripping.
func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return &CircuitBreaker{
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
		now:         time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			cb.rejected++
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probes = 1
		return true
	case CircuitHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.rejected++
			return false
		}
		cb.probes++
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0
	cb.probes = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the circuit once the threshold is hit.
// A failed probe reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total++
	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || (cb.threshold > 0 && cb.failures >= cb.threshold) {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		cb.probes = 0
	}
}

// Release returns a half-open probe slot without recording an outcome.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		TotalSuccesses:      cb.successes,
		TotalFailures:       cb.total,
		Rejected:            cb.rejected,
		LastFailure:         cb.lastFailure,
	}
}

// Reset closes the circuit and clears the failure run.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probes = 0
}
