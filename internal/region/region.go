// Package region manages the Data Region: the single backing file that holds
// every logical file's bytes at the offsets assigned by the catalog.
package region

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"

	"github.com/bamsammich/flatfs/internal/platform"
)

// copyChunk bounds a single throttled copy step.
const copyChunk = 1 << 20 // 1 MiB

// ErrOutOfRange is returned for accesses beyond the current region length.
var ErrOutOfRange = errors.New("range outside data region")

// Region is the backing data file. It is not safe for concurrent mutation;
// callers serialize Extend/Truncate/CopyRange under their own lock.
type Region struct {
	f      *os.File
	length int64
}

// Open opens (or creates) the data file at path.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open data region: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat data region: %w", err)
	}
	return &Region{f: f, length: info.Size()}, nil
}

// Len returns the current length of the region in bytes.
func (r *Region) Len() int64 { return r.length }

// Name returns the path of the backing file.
func (r *Region) Name() string { return r.f.Name() }

// File exposes the backing file for copy offload.
func (r *Region) File() *os.File { return r.f }

// ReadAt reads len(p) bytes at off. Reads must lie entirely within the region.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > r.length {
		return 0, fmt.Errorf("read [%d,%d): %w", off, off+int64(len(p)), ErrOutOfRange)
	}
	n, err := r.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

// WriteAt writes p at off. Writes must lie entirely within the region;
// growth goes through Extend.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > r.length {
		return 0, fmt.Errorf("write [%d,%d): %w", off, off+int64(len(p)), ErrOutOfRange)
	}
	return r.f.WriteAt(p, off)
}

// Extend appends n zero bytes to the region and returns the offset at which
// the new bytes begin.
func (r *Region) Extend(n int64) (int64, error) {
	start := r.length
	if n <= 0 {
		return start, nil
	}
	platform.Reserve(r.f, start, n)
	if err := r.f.Truncate(start + n); err != nil {
		return start, fmt.Errorf("extend data region by %d: %w", n, err)
	}
	r.length = start + n
	return start, nil
}

// Truncate sets the region length to n.
func (r *Region) Truncate(n int64) error {
	if err := r.f.Truncate(n); err != nil {
		return fmt.Errorf("truncate data region to %d: %w", n, err)
	}
	r.length = n
	return nil
}

// CopyRange copies n bytes from src to dst within the region. The ranges must
// not overlap and must both lie inside the region.
func (r *Region) CopyRange(src, dst, n int64) (platform.Copied, error) {
	if src < 0 || dst < 0 || src+n > r.length || dst+n > r.length {
		return platform.Copied{}, fmt.Errorf("copy %d bytes %d->%d: %w", n, src, dst, ErrOutOfRange)
	}
	return platform.Copy{From: r.f, To: r.f, FromOff: src, ToOff: dst, N: n}.Run()
}

// Lock takes the exclusive advisory lock on the data file.
func (r *Region) Lock() error {
	return platform.LockExclusive(r.f)
}

// CopyTo copies n bytes starting at src into dst at dstOff, in chunks gated
// by limiter when one is given. It is used to build a compacted region.
func (r *Region) CopyTo(
	ctx context.Context,
	dst *os.File,
	src, dstOff, n int64,
	limiter *rate.Limiter,
) (int64, error) {
	if src < 0 || src+n > r.length {
		return 0, fmt.Errorf("copy %d bytes from %d: %w", n, src, ErrOutOfRange)
	}

	chunk := int64(copyChunk)
	if limiter != nil && int64(limiter.Burst()) < chunk {
		chunk = int64(limiter.Burst())
	}

	var copied int64
	for copied < n {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		step := min(n-copied, chunk)
		if limiter != nil {
			if err := limiter.WaitN(ctx, int(step)); err != nil {
				return copied, err
			}
		}
		res, err := platform.Copy{
			From:    r.f,
			To:      dst,
			FromOff: src + copied,
			ToOff:   dstOff + copied,
			N:       step,
		}.Run()
		copied += res.N
		if err != nil {
			return copied, fmt.Errorf("copy extent chunk at %d: %w", src+copied, err)
		}
	}
	return copied, nil
}

// Sync flushes the region to stable storage.
func (r *Region) Sync() error {
	return r.f.Sync()
}

// Close closes the backing file.
func (r *Region) Close() error {
	return r.f.Close()
}

// NewLimiter creates a rate.Limiter that caps compaction copy throughput to
// bytesPerSec. Returns nil when bytesPerSec is not positive.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := copyChunk
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
