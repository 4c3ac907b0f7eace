package store

import (
	"errors"
	"fmt"

	"github.com/bamsammich/flatfs/internal/catalog"
	"github.com/bamsammich/flatfs/internal/journal"
	"github.com/bamsammich/flatfs/internal/vfs"
)

var _ vfs.Backend = (*Store)(nil)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrLocked is returned when another process has the filesystem open.
	ErrLocked = errors.New("filesystem in use by another process")
)

// zeroChunk bounds the buffer used to zero-fill gaps.
const zeroChunk = 64 * 1024

func (s *Store) find(name string) (int, error) {
	if s.closed {
		return -1, ErrClosed
	}
	return s.cat.Find(name)
}

func (s *Store) record(rec journal.Record) error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Append(rec)
}

// Lookup returns the size of the Live file name.
func (s *Store) Lookup(name string) (vfs.FileInfo, error) {
	i, err := s.find(name)
	if err != nil {
		return vfs.FileInfo{}, err
	}
	e := s.cat.Entry(i)
	return vfs.FileInfo{Name: e.Name, Size: e.Size}, nil
}

// List returns every Live file in catalog order.
func (s *Store) List() ([]vfs.FileInfo, error) {
	if s.closed {
		return nil, ErrClosed
	}
	listing := s.cat.List()
	out := make([]vfs.FileInfo, len(listing))
	for i, l := range listing {
		out[i] = vfs.FileInfo{Name: l.Name, Size: l.Size}
	}
	return out, nil
}

// Create adds an empty file at the tail of the Data Region.
func (s *Store) Create(name string) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := s.cat.PlanCreate(name); err != nil {
		return err
	}
	if err := s.record(journal.Record{Op: journal.OpCreate, Name: name}); err != nil {
		return err
	}
	_, err := s.cat.Create(name)
	return err
}

// Remove marks name Deleted; its bytes stay until compaction.
func (s *Store) Remove(name string) error {
	i, err := s.find(name)
	if err != nil {
		return err
	}
	if err := s.record(journal.Record{Op: journal.OpRemove, Index: i}); err != nil {
		return err
	}
	return s.cat.Remove(i)
}

// Rename changes the name of a Live file. Renaming onto another Live name
// fails with ErrAlreadyExists; renaming a file to itself is a no-op.
func (s *Store) Rename(from, to string) error {
	i, err := s.find(from)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err := s.cat.ValidateName(to); err != nil {
		return err
	}
	if _, err := s.cat.Find(to); err == nil {
		return fmt.Errorf("%q: %w", to, catalog.ErrAlreadyExists)
	}
	if err := s.record(journal.Record{Op: journal.OpRename, Index: i, Name: to}); err != nil {
		return err
	}
	return s.cat.Rename(i, to)
}

// ReadAt reads from name at off, stopping at the file size.
func (s *Store) ReadAt(name string, p []byte, off int64) (int, error) {
	i, err := s.find(name)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("read %q: negative offset %d", name, off)
	}
	e := s.cat.Entry(i)
	if off >= e.Size {
		return 0, nil
	}
	n := min(int64(len(p)), e.Size-off)
	return s.data.ReadAt(p[:n], e.Extent.Start+off)
}

// WriteAt writes p at off, growing or relocating the extent as needed.
func (s *Store) WriteAt(name string, p []byte, off int64) (int, error) {
	i, err := s.find(name)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("write %q: negative offset %d", name, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > catalog.MaxOffset {
		return 0, fmt.Errorf("write %q to %d: %w", name, end, catalog.ErrTooLarge)
	}

	if i, err = s.ensureCapacity(i, end); err != nil {
		return 0, err
	}
	e := s.cat.Entry(i)
	if off > e.Size {
		if err := s.zeroFill(e.Extent.Start+e.Size, off-e.Size); err != nil {
			return 0, err
		}
	}
	n, err := s.data.WriteAt(p, e.Extent.Start+off)
	if err != nil {
		return n, fmt.Errorf("write %q: %w", name, err)
	}
	if end > e.Size {
		if err := s.setSize(i, end); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Truncate sets the size of name. Shrinking keeps the capacity; growing
// zero-fills the new bytes.
func (s *Store) Truncate(name string, size int64) error {
	i, err := s.find(name)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("truncate %q: negative size %d", name, size)
	}
	if size > catalog.MaxOffset {
		return fmt.Errorf("truncate %q to %d: %w", name, size, catalog.ErrTooLarge)
	}
	cur := s.cat.Entry(i).Size
	if size == cur {
		return nil
	}
	if size > cur {
		if i, err = s.ensureCapacity(i, size); err != nil {
			return err
		}
		e := s.cat.Entry(i)
		if err := s.zeroFill(e.Extent.Start+cur, size-cur); err != nil {
			return err
		}
	}
	return s.setSize(i, size)
}

// ensureCapacity grows entry i to hold capacity bytes and returns its index,
// which changes when the entry is relocated.
func (s *Store) ensureCapacity(i int, capacity int64) (int, error) {
	g, err := s.cat.PlanGrow(i, capacity)
	if err != nil || g.None() {
		return i, err
	}
	prev := s.data.Len()
	if _, err := s.data.Extend(g.Extend); err != nil {
		return i, err
	}
	if g.Relocate && g.CopyLen > 0 {
		if _, err := s.data.CopyRange(g.From.Start, g.To.Start, g.CopyLen); err != nil {
			return i, s.unextend(prev, fmt.Errorf("relocate %s to %s: %w", g.From, g.To, err))
		}
	}
	// The journal must never describe extents past the durable data length.
	if s.journal != nil && s.opts.Sync == journal.SyncAlways {
		if err := s.data.Sync(); err != nil {
			return i, s.unextend(prev, fmt.Errorf("sync data: %w", err))
		}
	}
	if err := s.record(journal.Record{Op: journal.OpGrow, Index: i, Value: capacity}); err != nil {
		return i, s.unextend(prev, err)
	}
	ni := s.cat.ApplyGrow(g)
	if g.Relocate {
		s.log.Debug("relocated extent", "from", g.From.String(), "to", g.To.String(), "copied", g.CopyLen)
	}
	return ni, nil
}

// unextend drops bytes appended by a growth that was never committed, keeping
// the data file equal to the catalog tiling.
func (s *Store) unextend(prev int64, err error) error {
	if terr := s.data.Truncate(prev); terr != nil {
		s.log.Warn("rollback of data region growth failed", "length", prev, "error", terr)
	}
	return err
}

func (s *Store) setSize(i int, size int64) error {
	if err := s.record(journal.Record{Op: journal.OpSize, Index: i, Value: size}); err != nil {
		return err
	}
	return s.cat.SetSize(i, size)
}

// zeroFill writes n zero bytes at off so stale capacity is never exposed.
func (s *Store) zeroFill(off, n int64) error {
	buf := make([]byte, min(n, zeroChunk))
	for n > 0 {
		step := min(n, int64(len(buf)))
		if _, err := s.data.WriteAt(buf[:step], off); err != nil {
			return fmt.Errorf("zero-fill at %d: %w", off, err)
		}
		off += step
		n -= step
	}
	return nil
}

// Usage reports live and reclaimable bytes.
func (s *Store) Usage() (vfs.Usage, error) {
	if s.closed {
		return vfs.Usage{}, ErrClosed
	}
	u := vfs.Usage{
		Files:     s.cat.LiveCount(),
		Entries:   s.cat.Len(),
		LiveBytes: s.cat.LiveBytes(),
		DeadBytes: s.cat.DeadBytes(),
		DataBytes: s.data.Len(),
		MetaBytes: catalog.EncodedLen(s.cat.Len()),
	}
	if s.journal != nil {
		u.JournalBytes = s.journal.Size()
	}
	return u, nil
}
