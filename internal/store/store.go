// Package store is the durable extent store: a catalog mirrored to a metadata
// file and a journal, over a single Data Region file.
//
// Every mutation performs its Data Region I/O first, then appends a journal
// record, then commits to the in-memory catalog. With sync = always the data
// file is synced before a growth record is appended, so even after a power
// loss a crash leaves at worst an orphaned tail in the data file, which Open
// truncates.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bamsammich/flatfs/internal/catalog"
	"github.com/bamsammich/flatfs/internal/journal"
	"github.com/bamsammich/flatfs/internal/platform"
	"github.com/bamsammich/flatfs/internal/region"
)

const (
	compactSuffix = ".compact"
	journalSuffix = ".journal"
	tmpSuffix     = ".tmp"
)

// Options configures a Store.
type Options struct {
	DataPath string
	MetaPath string

	// NameMax bounds file names; 0 means catalog.MaxNameLen.
	NameMax int

	// NoJournal disables the mutation journal. Metadata is then written
	// only by Flush and Close.
	NoJournal bool
	Sync      journal.SyncMode

	// BandwidthLimit caps compaction copy throughput in bytes/sec (0 = off).
	BandwidthLimit int64

	Logger *slog.Logger
}

// Store implements vfs.Backend over a data file and a metadata file.
// It is not safe for concurrent use.
type Store struct {
	opts    Options
	cat     *catalog.Catalog
	data    *region.Region
	journal *journal.Journal
	log     *slog.Logger
	closed  bool
}

// Open loads or creates the filesystem described by opts, finishing or
// rolling back an interrupted compaction and replaying the journal.
func Open(opts Options) (*Store, error) {
	if opts.DataPath == "" || opts.MetaPath == "" {
		return nil, errors.New("open store: data and metadata paths are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{opts: opts, log: opts.Logger}

	// Lock before touching any other file.
	data, err := openRegion(opts.DataPath)
	if err != nil {
		return nil, err
	}
	s.data = data

	if err := s.recoverCompaction(); err != nil {
		data.Close()
		return nil, err
	}
	s.removeStaleSnapshots()

	cat, err := s.loadCatalog()
	if err != nil {
		data.Close()
		return nil, err
	}
	s.cat = cat

	if !opts.NoJournal {
		if err := s.openJournal(); err != nil {
			data.Close()
			return nil, err
		}
	}

	if err := s.reconcile(); err != nil {
		s.closeFiles()
		return nil, err
	}

	s.log.Debug("store opened",
		"data", opts.DataPath,
		"meta", opts.MetaPath,
		"entries", s.cat.Len(),
		"files", s.cat.LiveCount(),
		"data_bytes", s.data.Len(),
	)
	return s, nil
}

func (s *Store) loadCatalog() (*catalog.Catalog, error) {
	raw, err := os.ReadFile(s.opts.MetaPath)
	if errors.Is(err, os.ErrNotExist) {
		// Missing metadata is only valid for a new filesystem.
		if n := s.data.Len(); n > 0 {
			return nil, fmt.Errorf("%w: %s is missing but %s holds %d bytes",
				catalog.ErrCorrupt, s.opts.MetaPath, s.opts.DataPath, n)
		}
		cat := catalog.New(s.opts.NameMax)
		if err := writeSnapshot(cat, s.opts.MetaPath); err != nil {
			return nil, fmt.Errorf("initialize metadata: %w", err)
		}
		s.log.Info("created new filesystem", "meta", s.opts.MetaPath)
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	cat, err := catalog.Decode(bytes.NewReader(raw), s.opts.NameMax)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.opts.MetaPath, err)
	}
	return cat, nil
}

func (s *Store) openJournal() error {
	j, err := journal.Open(s.opts.MetaPath+journalSuffix, s.opts.Sync)
	if err != nil {
		return err
	}
	res, err := j.Replay(s.replay)
	if err != nil {
		j.Close()
		return fmt.Errorf("replay journal: %w", err)
	}
	if res.Torn > 0 {
		s.log.Warn("discarded torn journal tail", "path", j.Path(), "bytes", res.Torn)
	}
	if res.Records > 0 {
		s.log.Info("replayed journal", "records", res.Records)
	}
	s.journal = j
	return nil
}

// replay applies one journal record to the catalog without any Data Region
// I/O; the bytes were written before the record was appended.
func (s *Store) replay(rec journal.Record) error {
	var err error
	switch rec.Op {
	case journal.OpCreate:
		_, err = s.cat.Create(rec.Name)
	case journal.OpRemove:
		err = s.cat.Remove(rec.Index)
	case journal.OpRename:
		err = s.cat.Rename(rec.Index, rec.Name)
	case journal.OpGrow:
		var g catalog.Growth
		if g, err = s.cat.PlanGrow(rec.Index, rec.Value); err == nil {
			s.cat.ApplyGrow(g)
		}
	case journal.OpSize:
		err = s.cat.SetSize(rec.Index, rec.Value)
	default:
		err = fmt.Errorf("unknown op %d", rec.Op)
	}
	if err != nil {
		return fmt.Errorf("%w: journal record %s: %v", catalog.ErrCorrupt, rec, err)
	}
	return nil
}

// reconcile compares the catalog tiling with the data file length.
func (s *Store) reconcile() error {
	end, have := s.cat.End(), s.data.Len()
	switch {
	case have < end:
		return fmt.Errorf("%w: catalog covers %d bytes but %s has %d",
			catalog.ErrCorrupt, end, s.opts.DataPath, have)
	case have > end:
		s.log.Warn("truncating orphaned data tail",
			"path", s.opts.DataPath, "tiled", end, "length", have)
		if err := s.data.Truncate(end); err != nil {
			return err
		}
	}
	return s.cat.Check(s.data.Len())
}

// recoverCompaction finishes or rolls back a compaction interrupted by a
// crash. The data file is renamed into place before the metadata file, so a
// lone <meta>.compact means the data swap already happened.
func (s *Store) recoverCompaction() error {
	dataTmp := s.opts.DataPath + compactSuffix
	metaTmp := s.opts.MetaPath + compactSuffix
	dataExists := fileExists(dataTmp)
	metaExists := fileExists(metaTmp)

	switch {
	case metaExists && !dataExists:
		s.log.Warn("completing interrupted compaction", "meta", metaTmp)
		if err := os.Rename(metaTmp, s.opts.MetaPath); err != nil {
			return fmt.Errorf("promote %s: %w", metaTmp, err)
		}
		_ = os.Remove(s.opts.MetaPath + journalSuffix)
		return syncDir(filepath.Dir(s.opts.MetaPath))
	case dataExists:
		s.log.Warn("discarding interrupted compaction", "data", dataTmp)
		if err := os.Remove(dataTmp); err != nil {
			return fmt.Errorf("remove %s: %w", dataTmp, err)
		}
		if metaExists {
			if err := os.Remove(metaTmp); err != nil {
				return fmt.Errorf("remove %s: %w", metaTmp, err)
			}
		}
	}
	return nil
}

func (s *Store) removeStaleSnapshots() {
	dir, base := filepath.Split(s.opts.MetaPath)
	if dir == "" {
		dir = "."
	}
	matches, err := filepath.Glob(filepath.Join(dir, "."+base+".*"+tmpSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			s.log.Debug("removed stale snapshot", "path", m)
		}
	}
}

// Flush writes a full metadata snapshot atomically and resets the journal.
func (s *Store) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("sync data: %w", err)
	}
	if err := writeSnapshot(s.cat, s.opts.MetaPath); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// writeSnapshot encodes cat to a uuid-named temp file beside path, fsyncs it
// and renames it over path.
func writeSnapshot(cat *catalog.Catalog, path string) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", base, uuid.New().String()[:8], tmpSuffix))

	if err := writeFileSync(tmp, cat); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return syncDir(dir)
}

func writeFileSync(path string, cat *catalog.Catalog) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := cat.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// Close flushes and releases every file. Calling Close twice is a no-op.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closeFiles()
	s.closed = true
	return err
}

func (s *Store) closeFiles() {
	if s.journal != nil {
		s.journal.Close()
	}
	if s.data != nil {
		s.data.Close()
	}
}

// Check verifies the catalog against the data file.
func (s *Store) Check() error {
	if s.closed {
		return ErrClosed
	}
	return s.cat.Check(s.data.Len())
}

// Catalog returns a copy of every entry, tombstones included, for fsck and
// stat output.
func (s *Store) Catalog() []catalog.Entry {
	return s.cat.Entries()
}

// openRegion opens the data file and takes an exclusive advisory lock on it
// so two processes never serve the same filesystem.
func openRegion(path string) (*region.Region, error) {
	r, err := region.Open(path)
	if err != nil {
		return nil, err
	}
	if err := r.Lock(); err != nil {
		r.Close()
		if errors.Is(err, platform.ErrLockHeld) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return r, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func syncDir(dir string) error {
	if err := platform.SyncDir(dir); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
