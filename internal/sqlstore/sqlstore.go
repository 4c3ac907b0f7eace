// Package sqlstore is the relational backend: one SQLite row per file with
// the content in a blob column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bamsammich/flatfs/internal/catalog"
	"github.com/bamsammich/flatfs/internal/vfs"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("sqlstore closed")

// Options configures a Store.
type Options struct {
	Path    string
	NameMax int
	Logger  *slog.Logger
}

// Store implements vfs.Backend on SQLite.
type Store struct {
	db      *sql.DB
	path    string
	nameMax int
	log     *slog.Logger
	closed  bool
}

// Open opens (or creates) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("open sqlstore: path is required")
	}
	if opts.NameMax <= 0 || opts.NameMax > catalog.MaxNameLen {
		opts.NameMax = catalog.MaxNameLen
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// FS serializes access; one connection keeps transactions simple.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: opts.Path, nameMax: opts.NameMax, log: opts.Logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Debug("sqlstore opened", "path", opts.Path)
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id   INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			data BLOB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func notFound(name string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%q: %w", name, catalog.ErrNotFound)
	}
	return fmt.Errorf("query %q: %w", name, err)
}

// Lookup returns the size of name.
func (s *Store) Lookup(name string) (vfs.FileInfo, error) {
	if err := s.check(); err != nil {
		return vfs.FileInfo{}, err
	}
	var size int64
	err := s.db.QueryRow("SELECT length(data) FROM files WHERE name = ?", name).Scan(&size)
	if err != nil {
		return vfs.FileInfo{}, notFound(name, err)
	}
	return vfs.FileInfo{Name: name, Size: size}, nil
}

// List returns every file in creation order.
func (s *Store) List() ([]vfs.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT name, length(data) FROM files ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []vfs.FileInfo
	for rows.Next() {
		var fi vfs.FileInfo
		if err := rows.Scan(&fi.Name, &fi.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// Create inserts an empty file.
func (s *Store) Create(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := catalog.ValidName(name, s.nameMax); err != nil {
		return err
	}
	return s.tx(func(tx *sql.Tx) error {
		if exists(tx, name) {
			return fmt.Errorf("%q: %w", name, catalog.ErrAlreadyExists)
		}
		if _, err := tx.Exec("INSERT INTO files (name, data) VALUES (?, x'')", name); err != nil {
			return fmt.Errorf("insert %q: %w", name, err)
		}
		return nil
	})
}

// Remove deletes the row for name.
func (s *Store) Remove(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM files WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%q: %w", name, catalog.ErrNotFound)
	}
	return nil
}

// Rename changes the name of a file. Renaming onto another existing file
// fails with ErrAlreadyExists.
func (s *Store) Rename(from, to string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.tx(func(tx *sql.Tx) error {
		if !exists(tx, from) {
			return fmt.Errorf("%q: %w", from, catalog.ErrNotFound)
		}
		if from == to {
			return nil
		}
		if err := catalog.ValidName(to, s.nameMax); err != nil {
			return err
		}
		if exists(tx, to) {
			return fmt.Errorf("%q: %w", to, catalog.ErrAlreadyExists)
		}
		if _, err := tx.Exec("UPDATE files SET name = ? WHERE name = ?", to, from); err != nil {
			return fmt.Errorf("rename %q: %w", from, err)
		}
		return nil
	})
}

// ReadAt reads at most len(p) bytes at off without loading the whole blob.
func (s *Store) ReadAt(name string, p []byte, off int64) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("read %q: negative offset %d", name, off)
	}
	var chunk []byte
	err := s.db.QueryRow(
		"SELECT substr(data, ?, ?) FROM files WHERE name = ?", off+1, len(p), name,
	).Scan(&chunk)
	if err != nil {
		return 0, notFound(name, err)
	}
	return copy(p, chunk), nil
}

// WriteAt reads the blob, patches it and writes it back in one transaction.
func (s *Store) WriteAt(name string, p []byte, off int64) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("write %q: negative offset %d", name, off)
	}
	if len(p) == 0 {
		_, err := s.Lookup(name)
		return 0, err
	}
	end := off + int64(len(p))
	if end > catalog.MaxOffset {
		return 0, fmt.Errorf("write %q to %d: %w", name, end, catalog.ErrTooLarge)
	}
	err := s.patch(name, func(data []byte) []byte {
		if int64(len(data)) < end {
			data = append(data, make([]byte, end-int64(len(data)))...)
		}
		copy(data[off:], p)
		return data
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Truncate resizes the blob, zero-extending when it grows.
func (s *Store) Truncate(name string, size int64) error {
	if err := s.check(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("truncate %q: negative size %d", name, size)
	}
	if size > catalog.MaxOffset {
		return fmt.Errorf("truncate %q to %d: %w", name, size, catalog.ErrTooLarge)
	}
	return s.patch(name, func(data []byte) []byte {
		if int64(len(data)) >= size {
			return data[:size]
		}
		return append(data, make([]byte, size-int64(len(data)))...)
	})
}

func (s *Store) patch(name string, fn func([]byte) []byte) error {
	return s.tx(func(tx *sql.Tx) error {
		var data []byte
		if err := tx.QueryRow("SELECT data FROM files WHERE name = ?", name).Scan(&data); err != nil {
			return notFound(name, err)
		}
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.Exec("UPDATE files SET data = coalesce(?, x'') WHERE name = ?", fn(data), name); err != nil {
			return fmt.Errorf("update %q: %w", name, err)
		}
		return nil
	})
}

// Usage reports row counts and page usage. Free pages are what VACUUM
// reclaims.
func (s *Store) Usage() (vfs.Usage, error) {
	if err := s.check(); err != nil {
		return vfs.Usage{}, err
	}
	var u vfs.Usage
	err := s.db.QueryRow("SELECT count(*), coalesce(sum(length(data)), 0) FROM files").
		Scan(&u.Files, &u.LiveBytes)
	if err != nil {
		return u, fmt.Errorf("usage: %w", err)
	}
	u.Entries = u.Files

	pages, free, pageSize, err := s.pages()
	if err != nil {
		return u, err
	}
	u.DataBytes = pages * pageSize
	u.DeadBytes = free * pageSize
	return u, nil
}

func (s *Store) pages() (pages, free, size int64, err error) {
	if err = s.db.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0, 0, 0, fmt.Errorf("page_count: %w", err)
	}
	if err = s.db.QueryRow("PRAGMA freelist_count").Scan(&free); err != nil {
		return 0, 0, 0, fmt.Errorf("freelist_count: %w", err)
	}
	if err = s.db.QueryRow("PRAGMA page_size").Scan(&size); err != nil {
		return 0, 0, 0, fmt.Errorf("page_size: %w", err)
	}
	return pages, free, size, nil
}

// Compact runs VACUUM.
func (s *Store) Compact(ctx context.Context) (vfs.CompactResult, error) {
	if err := s.check(); err != nil {
		return vfs.CompactResult{}, err
	}
	start := time.Now()
	before, _, size, err := s.pages()
	if err != nil {
		return vfs.CompactResult{}, err
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return vfs.CompactResult{}, fmt.Errorf("vacuum: %w", err)
	}
	after, _, _, err := s.pages()
	if err != nil {
		return vfs.CompactResult{}, err
	}
	res := vfs.CompactResult{
		Before:    before * size,
		After:     after * size,
		Reclaimed: (before - after) * size,
		Elapsed:   time.Since(start),
	}
	s.log.Info("vacuumed database", "before", res.Before, "after", res.After)
	return res, nil
}

// Check runs SQLite's integrity check.
func (s *Store) Check() error {
	if err := s.check(); err != nil {
		return err
	}
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", catalog.ErrCorrupt, result)
	}
	return nil
}

// Flush checkpoints the write-ahead log into the database file.
func (s *Store) Flush() error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) tx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func exists(tx *sql.Tx, name string) bool {
	var one int
	return tx.QueryRow("SELECT 1 FROM files WHERE name = ?", name).Scan(&one) == nil
}
