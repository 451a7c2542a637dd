// flock.go provides cross-process file locking using flock(2).
// The session stores (mailboxes, state, runtime, control) are shared by
// the hub, the pane bridge, and ad-hoc CLI invocations; every
// read-modify-write cycle on those files runs under one of these locks.

package util

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock provides cross-process file locking using flock(2).
// Unlike sync.Mutex which only works within a process, FileLock ensures
// mutual exclusion across multiple processes on the same machine.
type FileLock struct {
	path string
	fl   *flock.Flock
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created if it doesn't exist.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// ensure lazily builds the underlying lock and its parent directory.
func (l *FileLock) ensure() (*flock.Flock, error) {
	if l.fl != nil {
		return l.fl, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	l.fl = flock.New(l.path)
	return l.fl, nil
}

// Lock acquires an exclusive lock on the file.
// This blocks until the lock is acquired.
// The caller must call Unlock when done.
func (l *FileLock) Lock() error {
	fl, err := l.ensure()
	if err != nil {
		return err
	}
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's already held.
func (l *FileLock) TryLock() (bool, error) {
	fl, err := l.ensure()
	if err != nil {
		return false, err
	}
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return locked, nil
}

// Unlock releases the lock.
// Safe to call even if not locked.
func (l *FileLock) Unlock() error {
	if l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// WithLock executes a function while holding the lock.
// This is a convenience wrapper that handles Lock/Unlock automatically.
func (l *FileLock) WithLock(fn func() error) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
