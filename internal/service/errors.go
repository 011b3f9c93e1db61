// Package service provides business logic implementations.
package service

import (
	"errors"
	"fmt"
)

// Eligibility outcomes. These are user-facing reasons an operation did
// not happen; nothing was mutated and retrying will not help.
var (
	ErrNotRegistered      = errors.New("account not registered")
	ErrNotFound           = errors.New("account not found")
	ErrUnbound            = errors.New("telegram account not bound")
	ErrAlreadyBound       = errors.New("telegram account already bound")
	ErrNoAccountAvailable = errors.New("no account available for binding")
	ErrBlocked            = errors.New("account is blocked")
	ErrPhoneRequired      = errors.New("phone number required")
	ErrLimitReached       = errors.New("play limit reached")
)

var eligibilityOutcomes = []error{
	ErrNotRegistered,
	ErrNotFound,
	ErrUnbound,
	ErrAlreadyBound,
	ErrNoAccountAvailable,
	ErrBlocked,
	ErrPhoneRequired,
	ErrLimitReached,
}

// IsEligibilityOutcome reports whether err is one of the user-facing
// outcomes rather than a system failure.
func IsEligibilityOutcome(err error) bool {
	for _, target := range eligibilityOutcomes {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// SystemError wraps a storage or infrastructure failure. Err carries the
// diagnostic detail for logs and must not be shown to untrusted callers.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

// IsSystemError reports whether err is, or wraps, a *SystemError.
func IsSystemError(err error) bool {
	var sysErr *SystemError
	return errors.As(err, &sysErr)
}
