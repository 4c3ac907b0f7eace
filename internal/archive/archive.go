// Package archive exports a filesystem image to a portable zstd-compressed
// stream and imports it back.
//
// Stream layout, inside one zstd stream, as MessagePack values:
//
//	{"format": "flatfs-archive", "version": 1, "count": N}
//	N times: {"name": string, "size": int} followed by ceil(size/ChunkSize)
//	         bin values holding the content in order
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"github.com/tinylib/msgp/msgp"

	"github.com/bamsammich/flatfs/internal/filter"
	"github.com/bamsammich/flatfs/internal/vfs"
)

const (
	// Format identifies an archive stream.
	Format = "flatfs-archive"
	// Version is the current stream version.
	Version = 1
	// ChunkSize bounds a single content value.
	ChunkSize = 256 * 1024
)

var (
	// ErrFormat is returned for streams that are not archives or are damaged.
	ErrFormat = errors.New("invalid archive")
	// ErrChanged is returned when a file changes size during export.
	ErrChanged = errors.New("file changed during export")
)

// Source is the read side of a filesystem.
type Source interface {
	List() ([]vfs.FileInfo, error)
	Read(path string, buf []byte, off int64) (int, error)
}

// Sink is the write side of a filesystem.
type Sink interface {
	Create(path string) error
	Truncate(path string, size int64) error
	Write(path string, data []byte, off int64) (int, error)
}

// Result summarizes an export or import.
type Result struct {
	Files   int
	Bytes   int64
	Skipped int
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Filter selects files; nil selects everything.
	Filter *filter.Chain
	Logger *slog.Logger
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Overwrite replaces existing files instead of failing.
	Overwrite bool
	Logger    *slog.Logger
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Export writes every selected file of src to w.
func Export(ctx context.Context, src Source, w io.Writer, opts ExportOptions) (Result, error) {
	log := logger(opts.Logger)
	var res Result

	files, err := src.List()
	if err != nil {
		return res, fmt.Errorf("list files: %w", err)
	}
	selected := files[:0:0]
	for _, f := range files {
		if opts.Filter.Match(f.Name, f.Size) {
			selected = append(selected, f)
		} else {
			res.Skipped++
		}
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return res, fmt.Errorf("zstd encoder: %w", err)
	}
	mw := msgp.NewWriter(zw)

	if err := writeHeader(mw, len(selected)); err != nil {
		zw.Close()
		return res, err
	}

	buf := make([]byte, ChunkSize)
	for _, f := range selected {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return res, err
		}
		if err := exportFile(src, mw, f, buf); err != nil {
			zw.Close()
			return res, err
		}
		res.Files++
		res.Bytes += f.Size
		log.Debug("exported", "name", f.Name, "size", f.Size)
	}

	if err := mw.Flush(); err != nil {
		zw.Close()
		return res, fmt.Errorf("flush archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return res, fmt.Errorf("close zstd stream: %w", err)
	}
	return res, nil
}

func writeHeader(mw *msgp.Writer, count int) error {
	if err := mw.WriteMapHeader(3); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := mw.WriteString("format"); err != nil {
		return err
	}
	if err := mw.WriteString(Format); err != nil {
		return err
	}
	if err := mw.WriteString("version"); err != nil {
		return err
	}
	if err := mw.WriteInt(Version); err != nil {
		return err
	}
	if err := mw.WriteString("count"); err != nil {
		return err
	}
	return mw.WriteInt(count)
}

func exportFile(src Source, mw *msgp.Writer, f vfs.FileInfo, buf []byte) error {
	if err := mw.WriteMapHeader(2); err != nil {
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	if err := mw.WriteString("name"); err != nil {
		return err
	}
	if err := mw.WriteString(f.Name); err != nil {
		return err
	}
	if err := mw.WriteString("size"); err != nil {
		return err
	}
	if err := mw.WriteInt64(f.Size); err != nil {
		return err
	}

	var off int64
	for off < f.Size {
		want := min(int64(len(buf)), f.Size-off)
		n, err := src.Read(f.Name, buf[:want], off)
		if err != nil {
			return fmt.Errorf("read %s at %d: %w", f.Name, off, err)
		}
		if int64(n) != want {
			return fmt.Errorf("%s: short read at %d: %w", f.Name, off, ErrChanged)
		}
		if err := mw.WriteBytes(buf[:n]); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		off += int64(n)
	}
	return nil
}

// Import recreates every file in r inside dst.
func Import(ctx context.Context, dst Sink, r io.Reader, opts ImportOptions) (Result, error) {
	log := logger(opts.Logger)
	var res Result

	zr, err := zstd.NewReader(r)
	if err != nil {
		return res, fmt.Errorf("zstd decoder: %w", err)
	}
	defer zr.Close()
	mr := msgp.NewReader(zr)

	count, err := readHeader(mr)
	if err != nil {
		return res, err
	}

	var buf []byte
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name, size, err := readFileHeader(mr)
		if err != nil {
			return res, fmt.Errorf("file %d: %w", i, err)
		}
		if err := prepare(dst, name, opts.Overwrite); err != nil {
			return res, err
		}
		var off int64
		for off < size {
			buf, err = mr.ReadBytes(buf[:0])
			if err != nil {
				return res, fmt.Errorf("%s content at %d: %w: %w", name, off, ErrFormat, err)
			}
			if len(buf) == 0 || len(buf) > ChunkSize || off+int64(len(buf)) > size {
				return res, fmt.Errorf("%s: chunk of %d bytes at %d: %w", name, len(buf), off, ErrFormat)
			}
			if _, err := dst.Write(name, buf, off); err != nil {
				return res, fmt.Errorf("write %s: %w", name, err)
			}
			off += int64(len(buf))
		}
		res.Files++
		res.Bytes += size
		log.Debug("imported", "name", name, "size", size)
	}
	return res, nil
}

func prepare(dst Sink, name string, overwrite bool) error {
	err := dst.Create(name)
	if err == nil {
		return nil
	}
	if !overwrite || !errors.Is(err, vfs.ErrAlreadyExists) {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := dst.Truncate(name, 0); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}
	return nil
}

func readHeader(mr *msgp.Reader) (int, error) {
	n, err := mr.ReadMapHeader()
	if err != nil {
		return 0, fmt.Errorf("read header: %w: %w", ErrFormat, err)
	}
	var (
		format  string
		version int
		count   = -1
	)
	for range n {
		key, err := mr.ReadString()
		if err != nil {
			return 0, fmt.Errorf("read header: %w: %w", ErrFormat, err)
		}
		switch key {
		case "format":
			format, err = mr.ReadString()
		case "version":
			version, err = mr.ReadInt()
		case "count":
			count, err = mr.ReadInt()
		default:
			err = mr.Skip()
		}
		if err != nil {
			return 0, fmt.Errorf("read header %s: %w: %w", key, ErrFormat, err)
		}
	}
	switch {
	case format != Format:
		return 0, fmt.Errorf("format %q: %w", format, ErrFormat)
	case version != Version:
		return 0, fmt.Errorf("unsupported version %d: %w", version, ErrFormat)
	case count < 0:
		return 0, fmt.Errorf("missing file count: %w", ErrFormat)
	}
	return count, nil
}

func readFileHeader(mr *msgp.Reader) (string, int64, error) {
	n, err := mr.ReadMapHeader()
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	var (
		name string
		size int64 = -1
	)
	for range n {
		key, err := mr.ReadString()
		if err != nil {
			return "", 0, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		switch key {
		case "name":
			name, err = mr.ReadString()
		case "size":
			size, err = mr.ReadInt64()
		default:
			err = mr.Skip()
		}
		if err != nil {
			return "", 0, fmt.Errorf("%s: %w: %w", key, ErrFormat, err)
		}
	}
	if name == "" || size < 0 {
		return "", 0, fmt.Errorf("incomplete file header: %w", ErrFormat)
	}
	return name, size, nil
}
