package platform

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLockHeld is returned by LockExclusive when another open file
// description holds the lock.
var ErrLockHeld = errors.New("file lock held elsewhere")

// LockExclusive takes a non-blocking exclusive flock on f. The lock is
// released when f is closed.
//
//nolint:gosec // G115: fd values are small non-negative integers
func LockExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrLockHeld
	}
	return err
}

// SyncDir fsyncs a directory so renames inside it are durable. Filesystems
// that reject directory fsync are tolerated.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
