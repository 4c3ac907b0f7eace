//go:build linux

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

//nolint:gosec // G115: fd values are small non-negative integers
func offload(c Copy) (int64, error) {
	roff, woff := c.FromOff, c.ToOff
	var done int64
	for done < c.N {
		n, err := unix.CopyFileRange(int(c.From.Fd()), &roff, int(c.To.Fd()), &woff, int(c.N-done), 0)
		if err != nil {
			if done == 0 && unsupported(err) {
				return 0, fmt.Errorf("%w: %w", errNoOffload, err)
			}
			return done, err
		}
		if n == 0 {
			return done, ErrShortSource
		}
		done += int64(n)
	}
	return done, nil
}

func unsupported(err error) bool {
	for _, e := range []error{unix.ENOSYS, unix.EXDEV, unix.EINVAL, unix.ENOTSUP, unix.EOPNOTSUPP, unix.EBADF} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
