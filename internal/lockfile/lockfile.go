// Package lockfile provides advisory file locks for serializing access to
// state shared between hook processes and the bridge daemon.
package lockfile

import (
	"errors"
	"fmt"
	"os"
)

// ErrAlreadyLocked indicates the lock is held by another process.
var ErrAlreadyLocked = errors.New("lock already held")

// Lock is a held advisory lock backed by an open file descriptor.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive lock on path, blocking until it is available.
func Acquire(path string) (*Lock, error) {
	return acquire(path, true)
}

// TryAcquire takes an exclusive lock on path without blocking. It returns
// ErrAlreadyLocked when another process holds the lock.
func TryAcquire(path string) (*Lock, error) {
	return acquire(path, false)
}

func acquire(path string, block bool) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, block); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Best-effort: record the holder's pid for troubleshooting.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the lock file. Safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Unlock first; close always.
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
