package lock

import "errors"

// ErrLockTimeout is returned when a lock is not acquired before the
// context or timeout expires.
var ErrLockTimeout = errors.New("lock acquisition timeout")
