// Package lock provides scoped, exclusive advisory file locks used to
// serialize commits and working-copy administrative-area access.
//
// No third-party advisory-lock library appears anywhere in the example
// corpus this module was grounded on, so this one concern is built
// directly on the standard library's syscall.Flock (see DESIGN.md).
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// Handle is a held exclusive lock on a file. Release is idempotent and
// safe to call via defer immediately after a successful Acquire.
type Handle struct {
	f        *os.File
	released bool
}

// Acquire opens (creating if necessary) path and blocks until an exclusive
// advisory lock on it is held. The returned Handle must be released by the
// caller, typically via `defer h.Release()`.
func Acquire(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	return &Handle{f: f}, nil
}

// Release drops the lock and closes the underlying file handle. Calling
// Release more than once is a no-op.
func (h *Handle) Release() error {
	if h == nil || h.released {
		return nil
	}
	h.released = true
	err := syscall.Flock(int(h.f.Fd()), syscall.LOCK_UN)
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}
