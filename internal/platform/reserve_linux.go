//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// Reserve asks the filesystem to allocate blocks for [off, off+n) without
// changing the file length. It reports whether the reservation took effect.
//
//nolint:gosec // G115: fd values are small non-negative integers
func Reserve(f *os.File, off, n int64) bool {
	if n <= 0 {
		return false
	}
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, off, n) == nil
}
