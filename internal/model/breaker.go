package model

import "time"

// BreakerStateVersion is the current serialization version of
// CircuitBreakerState. Bump on incompatible changes; loaders discard records
// with an unknown version instead of guessing.
const BreakerStateVersion = 1

// CircuitBreakerState is the durable record of one stage breaker. It is
// mutated only by its owning CircuitBreaker and persisted last-write-wins
// under a per-stage key with TTL.
//
// Invariant: IsOpen is true only while FailureCount >= FailureThreshold and
// the recovery timeout has not elapsed since LastFailureTime.
type CircuitBreakerState struct {
	Version          int           `json:"version"`
	Name             string        `json:"name"`
	FailureCount     int           `json:"failure_count"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
	IsOpen           bool          `json:"is_open"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout_ns"`
}
