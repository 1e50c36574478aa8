// Package errors provides pipeline error classification and handling utilities.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a stage breaker rejects a call before
// the stage handler was invoked.
type CircuitOpenError struct {
	Stage string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for stage %s", e.Stage)
}

// StageTimeoutError is returned when a stage handler exceeded its deadline.
// It is a distinct failure path from a handler error.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

// StageFailureError wraps an error raised by a stage handler.
type StageFailureError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageFailureError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *StageFailureError) Unwrap() error {
	return e.Err
}

// CollaboratorConfigError is surfaced when an external collaborator is
// misconfigured (for example a missing base URL).
type CollaboratorConfigError struct {
	Collaborator string
	Reason       string
}

// Error implements the error interface.
func (e *CollaboratorConfigError) Error() string {
	return fmt.Sprintf("collaborator %s misconfigured: %s", e.Collaborator, e.Reason)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsStageTimeout reports whether err is (or wraps) a StageTimeoutError.
func IsStageTimeout(err error) bool {
	var target *StageTimeoutError
	return errors.As(err, &target)
}

// IsCollaboratorConfig reports whether err is (or wraps) a CollaboratorConfigError.
func IsCollaboratorConfig(err error) bool {
	var target *CollaboratorConfigError
	return errors.As(err, &target)
}
