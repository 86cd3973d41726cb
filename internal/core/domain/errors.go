// Package domain defines the core domain models for kvmesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "KV-OBJ-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// Common domain errors.
var (
	// ErrNotFound is returned when a key is absent or its object has expired.
	// It is an expected outcome for callers, not an operational error.
	ErrNotFound = NewDomainError("KV-OBJ-4040", "object not found")

	// ErrCapacityExceeded is returned when a write cannot fit within the
	// storage budget even after eviction.
	ErrCapacityExceeded = NewDomainError("KV-CAP-5070", "storage budget exceeded")

	// ErrDecryption is returned when authenticated decryption fails.
	// The stored object is left in place: the failure may be transient
	// (e.g. a misconfigured key).
	ErrDecryption = NewDomainError("KV-ENC-5000", "decryption failed")

	// ErrPeerUnreachable indicates a peer could not be contacted.
	// It is only ever observed by background replication tasks.
	ErrPeerUnreachable = NewDomainError("KV-REP-5040", "peer unreachable")

	// ErrReplicationTimeout indicates a peer call exceeded its deadline.
	ErrReplicationTimeout = NewDomainError("KV-REP-5041", "replication timed out")

	// ErrEngineClosed is returned for operations on a closed engine.
	ErrEngineClosed = NewDomainError("KV-ENG-5030", "engine closed")

	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = NewDomainError("KV-OBJ-4000", "invalid key")

	// ErrInternal wraps unexpected failures.
	ErrInternal = NewDomainError("KV-SYS-5000", "internal error")
)
