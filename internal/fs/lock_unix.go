//go:build unix

package fs

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a non-blocking lock attempt finds the lock held.
var ErrLocked = errors.New("lock held by another process")

// Lock is an advisory flock(2) on a file.
// flock locks belong to the open file description, so two handles in the same
// process exclude each other just like two processes do.
type Lock struct {
	f *os.File
}

// AcquireLock locks path, creating it if needed. Shared locks allow other
// shared holders; exclusive locks exclude everyone. With wait=false the call
// fails with ErrLocked instead of blocking.
func AcquireLock(path string, exclusive, wait bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if !wait {
		how |= unix.LOCK_NB
	}

	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file. It is safe to call on nil.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
