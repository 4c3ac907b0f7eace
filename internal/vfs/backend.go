package vfs

import (
	"context"
	"time"

	"github.com/bamsammich/flatfs/internal/catalog"
)

// Errors shared by every backend. Callers test with errors.Is.
var (
	ErrNotFound      = catalog.ErrNotFound
	ErrAlreadyExists = catalog.ErrAlreadyExists
	ErrNameTooLong   = catalog.ErrNameTooLong
	ErrInvalidName   = catalog.ErrInvalidName
	ErrTooLarge      = catalog.ErrTooLarge
	ErrCorrupt       = catalog.ErrCorrupt
)

// FileInfo describes one Live file.
type FileInfo struct {
	Name string
	Size int64
}

// Usage reports how the backing storage is used.
type Usage struct {
	Files   int
	Entries int
	// LiveBytes is the sum of Live file sizes.
	LiveBytes int64
	// DeadBytes is what compaction would reclaim.
	DeadBytes    int64
	DataBytes    int64
	MetaBytes    int64
	JournalBytes int64
}

// DeadRatio is the reclaimable fraction of the data bytes.
func (u Usage) DeadRatio() float64 {
	if u.DataBytes <= 0 {
		return 0
	}
	return float64(u.DeadBytes) / float64(u.DataBytes)
}

// CompactResult summarizes a compaction pass.
type CompactResult struct {
	Before    int64
	After     int64
	Reclaimed int64
	Dropped   int
	Elapsed   time.Duration
}

// Backend stores the files of a flat namespace. Names passed to a Backend are
// already normalized: no leading '/', never the root. Implementations are not
// safe for concurrent use; FS serializes every call.
type Backend interface {
	Lookup(name string) (FileInfo, error)
	List() ([]FileInfo, error)
	Create(name string) error
	Remove(name string) error
	Rename(from, to string) error
	// ReadAt reads at most len(p) bytes at off, never past the file size.
	// Reading at or beyond the size returns 0 bytes and no error.
	ReadAt(name string, p []byte, off int64) (int, error)
	// WriteAt writes p at off, growing the file as needed. A gap between
	// the old size and off reads back as zeros.
	WriteAt(name string, p []byte, off int64) (int, error)
	// Truncate sets the size, zero-extending when it grows.
	Truncate(name string, size int64) error
	Usage() (Usage, error)
	Compact(ctx context.Context) (CompactResult, error)
	// Check verifies the structural invariants of the backing storage.
	Check() error
	Flush() error
	Close() error
}
