// Package lock provides per-key in-process locking.
//
// The database row lock is what keeps account state consistent; these
// locks only queue duplicate requests for the same key (double clicks,
// repeated /bind) in front of it so they do not pile up on the pool.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// keyMutex is a one-slot semaphore with a reference count. The entry is
// removed from the map once nobody holds or waits for it.
type keyMutex struct {
	ch   chan struct{}
	refs int
}

// UserLock provides per-id locking. The zero value is not usable; call
// NewUserLock.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*keyMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*keyMutex)}
}

// ref returns the mutex for id, creating it if needed, and takes a reference.
func (ul *UserLock) ref(id int64) *keyMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[id]
	if !ok {
		m = &keyMutex{ch: make(chan struct{}, 1)}
		ul.locks[id] = m
	}
	m.refs++
	return m
}

// unref drops a reference and removes the entry when it was the last one.
func (ul *UserLock) unref(id int64, m *keyMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(ul.locks, id)
	}
}

// Lock blocks until the lock for id is acquired.
func (ul *UserLock) Lock(id int64) {
	m := ul.ref(id)
	m.ch <- struct{}{}
}

// Unlock releases the lock for id. Unlocking an id that is not locked panics.
func (ul *UserLock) Unlock(id int64) {
	ul.mu.Lock()
	m, ok := ul.locks[id]
	ul.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("lock: unlock of unlocked id %d", id))
	}

	<-m.ch
	ul.unref(id, m)
}

// TryLock attempts to acquire the lock without blocking.
func (ul *UserLock) TryLock(id int64) bool {
	m := ul.ref(id)
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		ul.unref(id, m)
		return false
	}
}

// LockContext acquires the lock for id, giving up when ctx is done.
func (ul *UserLock) LockContext(ctx context.Context, id int64) error {
	m := ul.ref(id)
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.unref(id, m)
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

// WithLock executes fn while holding the lock for id.
func (ul *UserLock) WithLock(id int64, fn func() error) error {
	ul.Lock(id)
	defer ul.Unlock(id)
	return fn()
}

// WithLockContext executes fn while holding the lock for id. Waiting for
// the lock is bounded by timeout and by ctx.
func (ul *UserLock) WithLockContext(ctx context.Context, id int64, timeout time.Duration, fn func() error) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ul.LockContext(waitCtx, id); err != nil {
		return err
	}
	defer ul.Unlock(id)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// IsLocked reports whether id is currently held.
// This is a point-in-time check and may change immediately after.
func (ul *UserLock) IsLocked(id int64) bool {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[id]
	return ok && len(m.ch) == 1
}

// Len returns the number of ids currently held or waited on.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
