//go:build unix

package jsonblite

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive, lockShared, and unlock take OS advisory whole-file locks
// over an open file handle, dropping to golang.org/x/sys/unix for the one
// primitive the standard library doesn't expose portably.
func lockExclusive(f *os.File) error {
	return flockRetry(f, unix.LOCK_EX)
}

func lockShared(f *os.File) error {
	return flockRetry(f, unix.LOCK_SH)
}

func unlock(f *os.File) error {
	return flockRetry(f, unix.LOCK_UN)
}

// flockRetry retries on EINTR, since a blocking flock(2) call can be
// interrupted by a signal without the lock having been acquired or
// released.
func flockRetry(f *os.File, how int) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, how)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
