// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock guards files that must have a single writer with
// non-blocking advisory locks.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrAlreadyLocked is returned by [Acquire] when another process holds the lock.
var ErrAlreadyLocked = errors.New("filelock: already locked")

// Lock is a held lock. The zero value and nil are released locks.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock file at path, creating it if needed, and writes the
// PID of the current process into it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, path)
		}
		return nil, err
	}
	l := &Lock{path: path, f: f}
	if err := f.Truncate(0); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

// Path returns the path of the lock file.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return errors.Join(syscall.Flock(int(f.Fd()), syscall.LOCK_UN), f.Close())
}
