// Package platform wraps the kernel facilities the data region relies on:
// in-kernel range copies, block reservation and advisory file locks.
package platform

import (
	"errors"
	"fmt"
	"os"
)

// Method names the strategy that moved the bytes of a Copy.
type Method uint8

const (
	MethodPwrite Method = iota
	MethodKernel        // copy_file_range(2)
)

func (m Method) String() string {
	switch m {
	case MethodPwrite:
		return "pwrite"
	case MethodKernel:
		return "copy_file_range"
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

var (
	// ErrOverlap is returned when a same-file copy has intersecting ranges.
	ErrOverlap = errors.New("copy ranges overlap")
	// ErrShortSource is returned when From ends before N bytes were read.
	ErrShortSource = errors.New("source ended before requested length")

	errNoOffload = errors.New("kernel copy offload unavailable")
)

// Copy moves N bytes from From at FromOff to To at ToOff. From and To may be
// the same file (relocation inside the data region) when the ranges are
// disjoint.
type Copy struct {
	From, To       *os.File
	FromOff, ToOff int64
	N              int64
}

// Copied reports how many bytes a Copy moved and how.
type Copied struct {
	N      int64
	Method Method
}

func (c Copy) overlaps() bool {
	if c.From != c.To || c.N == 0 {
		return false
	}
	return c.FromOff < c.ToOff+c.N && c.ToOff < c.FromOff+c.N
}

// Run performs the copy, offloading to the kernel when the filesystem allows
// it and falling back to buffered pread/pwrite otherwise. A partial kernel
// copy is reported as is rather than retried.
func (c Copy) Run() (Copied, error) {
	if c.N < 0 || c.FromOff < 0 || c.ToOff < 0 {
		return Copied{}, fmt.Errorf("copy %d bytes %d->%d: negative range", c.N, c.FromOff, c.ToOff)
	}
	if c.overlaps() {
		return Copied{}, ErrOverlap
	}
	if c.N == 0 {
		return Copied{Method: MethodKernel}, nil
	}

	n, err := offload(c)
	switch {
	case err == nil:
		return Copied{N: n, Method: MethodKernel}, nil
	case n > 0 || !errors.Is(err, errNoOffload):
		return Copied{N: n, Method: MethodKernel}, err
	}
	return c.buffered()
}

// Buffered runs the copy through the pread/pwrite path only.
func (c Copy) Buffered() (Copied, error) {
	if c.overlaps() {
		return Copied{}, ErrOverlap
	}
	return c.buffered()
}
