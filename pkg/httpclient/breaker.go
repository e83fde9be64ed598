package httpclient

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

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

// BreakerConfig holds settings for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// ResetTimeout is how long the circuit stays open before transitioning
	// to half-open.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`

	// HalfOpenMax is the max probe requests allowed in half-open state.
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max"`

	// AcceptableStatusCodes specifies which HTTP status codes count as
	// success for this breaker's clients. If nil, defaults to 2xx.
	AcceptableStatusCodes *StatusCodeSet `json:"acceptable_status_codes,omitempty" yaml:"acceptable_status_codes,omitempty"`
}

// DefaultBreakerConfig returns a BreakerConfig with sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultCircuitThreshold,
		ResetTimeout:     DefaultCircuitTimeout,
		HalfOpenMax:      DefaultCircuitHalfOpenMax,
	}
}

// MergeWith returns a copy of c with non-zero fields of other overriding.
// This lets sparse per-service profiles inherit from a global config.
func (c BreakerConfig) MergeWith(other BreakerConfig) BreakerConfig {
	result := c
	if other.FailureThreshold > 0 {
		result.FailureThreshold = other.FailureThreshold
	}
	if other.ResetTimeout > 0 {
		result.ResetTimeout = other.ResetTimeout
	}
	if other.HalfOpenMax > 0 {
		result.HalfOpenMax = other.HalfOpenMax
	}
	if other.AcceptableStatusCodes != nil {
		result.AcceptableStatusCodes = other.AcceptableStatusCodes
	}
	return result
}

// CircuitBreaker implements the circuit breaker pattern: consecutive failures
// open the circuit, a reset timeout lets a limited number of probes through,
// and a probe success closes it again.
type CircuitBreaker struct {
	mu              sync.RWMutex
	cfg             BreakerConfig
	state           CircuitState
	failures        int // consecutive failures
	successes       int // consecutive successes in half-open
	halfOpenCount   int
	lastFailureTime time.Time
	lastSuccessTime time.Time

	// Total counters, never reset, for stats endpoints.
	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
// Zero fields are filled from DefaultBreakerConfig.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg = DefaultBreakerConfig().MergeWith(cfg)
	return &CircuitBreaker{
		cfg:   cfg,
		state: CircuitClosed,
	}
}

// Config returns a copy of the breaker's configuration.
func (cb *CircuitBreaker) Config() BreakerConfig {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.cfg
}

// Allow returns true if the request should be allowed to proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1 // count this first probe
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.cfg.HalfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request. A success in half-open state
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.totalRequests++
	cb.totalSuccesses++
	cb.lastSuccessTime = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.failures = 0
		cb.successes = 0
	}
}

// RecordFailure records a failed request. Reaching the failure threshold in
// closed state, or any failure in half-open state, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()
	cb.totalRequests++
	cb.totalFailures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// CircuitBreakerStats holds a snapshot of a circuit breaker's counters.
type CircuitBreakerStats struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalRequests       int64        `json:"total_requests"`
	TotalSuccesses      int64        `json:"total_successes"`
	TotalFailures       int64        `json:"total_failures"`
	FailureRate         float64      `json:"failure_rate"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	LastSuccess         time.Time    `json:"last_success,omitempty"`
	NextProbeAt         time.Time    `json:"next_probe_at,omitempty"`
}

// Stats returns current statistics for this circuit breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := CircuitBreakerStats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		TotalRequests:       cb.totalRequests,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		LastFailure:         cb.lastFailureTime,
		LastSuccess:         cb.lastSuccessTime,
	}

	if stats.TotalRequests > 0 {
		stats.FailureRate = float64(stats.TotalFailures) / float64(stats.TotalRequests) * 100
	}
	if cb.state == CircuitOpen && !cb.lastFailureTime.IsZero() {
		stats.NextProbeAt = cb.lastFailureTime.Add(cb.cfg.ResetTimeout)
	}

	return stats
}
