// Package vfs implements the filesystem operation handlers of a flat
// namespace: path normalization, locking, events and statistics over a
// Backend.
package vfs

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/flatfs/internal/event"
	"github.com/bamsammich/flatfs/internal/stats"
)

const (
	// FileMode is reported for every file.
	FileMode os.FileMode = 0o644
	// DirMode is reported for the root directory.
	DirMode = os.ModeDir | 0o755

	hashChunk = 256 * 1024
)

// Options configures an FS.
type Options struct {
	// Events receives mutation events. Sends never block; events are
	// dropped when the channel is full.
	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger
}

// FS serializes access to a Backend. Reads share a read lock; every mutation,
// relocation and compaction holds the write lock.
type FS struct {
	mu      sync.RWMutex
	backend Backend
	events  chan<- event.Event
	stats   *stats.Collector
	log     *slog.Logger
}

// New wraps backend.
func New(backend Backend, opts Options) *FS {
	if opts.Stats == nil {
		opts.Stats = stats.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FS{
		backend: backend,
		events:  opts.Events,
		stats:   opts.Stats,
		log:     opts.Logger,
	}
}

// Attr holds the attributes of a path.
type Attr struct {
	Mode  os.FileMode
	Size  int64
	Nlink uint32
}

// IsDir reports whether the attributes describe the root directory.
func (a Attr) IsDir() bool { return a.Mode.IsDir() }

// DirEntry is one entry of the root directory listing.
type DirEntry struct {
	Name string
	Mode os.FileMode
	Size int64
}

// Normalize maps a path to a file name. The root is "" or "/"; a single
// leading '/' is stripped; anything nested is ErrInvalidName.
func Normalize(path string) (name string, root bool, err error) {
	name = strings.TrimPrefix(path, "/")
	if name == "" {
		return "", true, nil
	}
	if strings.Contains(name, "/") {
		return "", false, fmt.Errorf("%q: %w", path, ErrInvalidName)
	}
	return name, false, nil
}

func fileName(path string) (string, error) {
	name, root, err := Normalize(path)
	if err != nil {
		return "", err
	}
	if root {
		return "", fmt.Errorf("%q is the root directory: %w", path, ErrInvalidName)
	}
	return name, nil
}

func (fs *FS) emit(e event.Event) {
	if fs.events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case fs.events <- e:
	default:
	}
}

// fail counts an unexpected error. Expected lookup misses are not counted.
func (fs *FS) fail(err error) error {
	if err != nil {
		fs.stats.AddError()
	}
	return err
}

// Open succeeds iff path is the root or a Live file. Opens are stateless.
func (fs *FS) Open(path string) error {
	name, root, err := Normalize(path)
	if err != nil || root {
		return err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, err = fs.backend.Lookup(name)
	return err
}

// Read reads up to len(buf) bytes at off. It returns 0 bytes at or past the
// end of the file.
func (fs *FS) Read(path string, buf []byte, off int64) (int, error) {
	name, err := fileName(path)
	if err != nil {
		return 0, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, err := fs.backend.ReadAt(name, buf, off)
	if err != nil {
		return n, err
	}
	fs.stats.AddRead(int64(n))
	return n, nil
}

// Write writes data at off, growing the file as needed.
func (fs *FS) Write(path string, data []byte, off int64) (int, error) {
	name, err := fileName(path)
	if err != nil {
		return 0, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.backend.WriteAt(name, data, off)
	if err != nil {
		return n, fs.fail(err)
	}
	fs.stats.AddWrite(int64(n))
	fs.emit(event.Event{Type: event.FileWritten, Name: name, Offset: off, Size: int64(n)})
	return n, nil
}

// Truncate sets the size of path.
func (fs *FS) Truncate(path string, size int64) error {
	name, err := fileName(path)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.backend.Truncate(name, size); err != nil {
		return fs.fail(err)
	}
	fs.stats.AddTruncate()
	fs.emit(event.Event{Type: event.FileTruncated, Name: name, Size: size})
	return nil
}

// Create makes a new empty file.
func (fs *FS) Create(path string) error {
	name, err := fileName(path)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.backend.Create(name); err != nil {
		return err
	}
	fs.stats.AddCreate()
	fs.emit(event.Event{Type: event.FileCreated, Name: name})
	fs.log.Debug("created", "name", name)
	return nil
}

// Unlink removes path.
func (fs *FS) Unlink(path string) error {
	name, err := fileName(path)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.backend.Remove(name); err != nil {
		return err
	}
	fs.stats.AddRemove()
	fs.emit(event.Event{Type: event.FileRemoved, Name: name})
	fs.log.Debug("removed", "name", name)
	return nil
}

// Rename renames from to to. The target must not be another Live file.
func (fs *FS) Rename(from, to string) error {
	oldName, err := fileName(from)
	if err != nil {
		return err
	}
	newName, err := fileName(to)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.backend.Rename(oldName, newName); err != nil {
		return err
	}
	fs.stats.AddRename()
	fs.emit(event.Event{Type: event.FileRenamed, Name: oldName, NewName: newName})
	fs.log.Debug("renamed", "from", oldName, "to", newName)
	return nil
}

// Attr returns the attributes of path.
func (fs *FS) Attr(path string) (Attr, error) {
	name, root, err := Normalize(path)
	if err != nil {
		return Attr{}, err
	}
	if root {
		return Attr{Mode: DirMode, Nlink: 2}, nil
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	info, err := fs.backend.Lookup(name)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Mode: FileMode, Size: info.Size, Nlink: 1}, nil
}

// ReadDir lists the root directory: "." and ".." followed by every Live file
// in catalog order.
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	_, root, err := Normalize(path)
	if err != nil {
		return nil, err
	}
	if !root {
		return nil, fmt.Errorf("%q is not a directory: %w", path, ErrInvalidName)
	}
	files, err := fs.List()
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(files)+2)
	out = append(out,
		DirEntry{Name: ".", Mode: DirMode},
		DirEntry{Name: "..", Mode: DirMode},
	)
	for _, f := range files {
		out = append(out, DirEntry{Name: f.Name, Mode: FileMode, Size: f.Size})
	}
	return out, nil
}

// List returns every Live file in catalog order.
func (fs *FS) List() ([]FileInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.backend.List()
}

// Usage reports backing storage usage.
func (fs *FS) Usage() (Usage, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.backend.Usage()
}

// Compact reclaims tombstones and unused capacity. It holds the write lock for
// its whole duration; ctx cancels it before the file swap.
func (fs *FS) Compact(ctx context.Context) (CompactResult, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.emit(event.Event{Type: event.CompactStarted})
	res, err := fs.backend.Compact(ctx)
	if err != nil {
		fs.emit(event.Event{Type: event.CompactFailed, Error: err})
		return res, fs.fail(err)
	}
	fs.stats.AddCompaction(res.Reclaimed)
	fs.emit(event.Event{Type: event.CompactComplete, Size: res.Reclaimed})
	return res, nil
}

// Hash returns the hex BLAKE3 digest of the content of path.
func (fs *FS) Hash(ctx context.Context, path string) (string, error) {
	name, err := fileName(path)
	if err != nil {
		return "", err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.hashLocked(ctx, name)
}

func (fs *FS) hashLocked(ctx context.Context, name string) (string, error) {
	h := blake3.New()
	buf := make([]byte, hashChunk)
	var off int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := fs.backend.ReadAt(name, buf, off)
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", name, err)
		}
		if n == 0 {
			break
		}
		h.Write(buf[:n])
		off += int64(n)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckReport is the outcome of Check.
type CheckReport struct {
	Files  int
	Bytes  int64
	Hashes map[string]string
}

// Check verifies the backend's structural invariants and, when hash is set,
// reads every file end to end.
func (fs *FS) Check(ctx context.Context, hash bool) (CheckReport, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var report CheckReport
	if err := fs.backend.Check(); err != nil {
		return report, err
	}
	files, err := fs.backend.List()
	if err != nil {
		return report, err
	}
	report.Files = len(files)
	for _, f := range files {
		report.Bytes += f.Size
	}
	if !hash {
		return report, nil
	}
	report.Hashes = make(map[string]string, len(files))
	for _, f := range files {
		sum, err := fs.hashLocked(ctx, f.Name)
		if err != nil {
			return report, err
		}
		report.Hashes[f.Name] = sum
	}
	return report, nil
}

// Stats returns the operation counters.
func (fs *FS) Stats() stats.Snapshot { return fs.stats.Snapshot() }

// Collector exposes the underlying collector for periodic ticking.
func (fs *FS) Collector() *stats.Collector { return fs.stats }

// Flush makes every completed mutation durable.
func (fs *FS) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.backend.Flush(); err != nil {
		return fs.fail(err)
	}
	fs.emit(event.Event{Type: event.Flushed})
	return nil
}

// Close flushes and closes the backend.
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.backend.Close()
}
