// Package journal implements the append-only mutation log that keeps the
// catalog durable between full metadata snapshots.
//
// Frame layout: [4-byte payload length (LE)][8-byte xxhash64 of type+payload]
// [1-byte op][payload]. Replay stops at the first incomplete or mismatching
// frame; everything after it is a torn write and is truncated.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 13

	// MaxPayload bounds a single record; anything larger is treated as a
	// torn frame during replay.
	MaxPayload = 64 * 1024
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// SyncMode controls when appended frames are fsynced.
type SyncMode int

const (
	// SyncAlways fsyncs after every append.
	SyncAlways SyncMode = iota
	// SyncNever leaves flushing to the OS and to snapshot flushes.
	SyncNever
)

func (m SyncMode) String() string {
	switch m {
	case SyncAlways:
		return "always"
	case SyncNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseSyncMode parses "always" or "never".
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return SyncAlways, nil
	case "never":
		return SyncNever, nil
	default:
		return 0, fmt.Errorf("invalid sync mode %q (want always or never)", s)
	}
}

// Journal is an append-only record file. It is not safe for concurrent use.
type Journal struct {
	f    *os.File
	mode SyncMode
	size int64
	buf  []byte
}

// Open opens or creates the journal at path. Call Replay before the first
// Append so the write offset sits after the last valid frame.
func Open(path string, mode SyncMode) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	return &Journal{f: f, mode: mode, size: info.Size()}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.f.Name() }

// Size returns the number of valid bytes in the journal.
func (j *Journal) Size() int64 { return j.size }

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Records int
	// Valid is the length of the intact prefix.
	Valid int64
	// Torn is the number of trailing bytes discarded.
	Torn int64
}

// Replay calls fn for every intact record in order, then truncates any torn
// tail. An error from fn stops the replay and is returned unchanged.
func (j *Journal) Replay(fn func(Record) error) (ReplayResult, error) {
	if j.f == nil {
		return ReplayResult{}, ErrClosed
	}
	info, err := j.f.Stat()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("stat journal: %w", err)
	}
	total := info.Size()

	var res ReplayResult
	r := bufio.NewReaderSize(io.NewSectionReader(j.f, 0, total), 64*1024)
	var header [HeaderSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		n := binary.LittleEndian.Uint32(header[0:4])
		if n > MaxPayload {
			break
		}
		body := make([]byte, 1+n)
		body[0] = header[12]
		if _, err := io.ReadFull(r, body[1:]); err != nil {
			break
		}
		if xxhash.Sum64(body) != binary.LittleEndian.Uint64(header[4:12]) {
			break
		}
		rec, err := decodePayload(Op(body[0]), body[1:])
		if err != nil {
			break
		}
		if err := fn(rec); err != nil {
			return res, err
		}
		res.Records++
		res.Valid += HeaderSize + int64(n)
	}

	res.Torn = total - res.Valid
	if res.Torn > 0 {
		if err := j.f.Truncate(res.Valid); err != nil {
			return res, fmt.Errorf("truncate torn journal tail: %w", err)
		}
	}
	j.size = res.Valid
	return res, nil
}

// Append writes one record at the end of the journal.
func (j *Journal) Append(rec Record) error {
	if j.f == nil {
		return ErrClosed
	}
	payload, err := rec.appendPayload(j.buf[:0])
	if err != nil {
		return err
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	frame[12] = byte(rec.Op)
	copy(frame[HeaderSize:], payload)
	binary.LittleEndian.PutUint64(frame[4:12], xxhash.Sum64(frame[12:]))
	j.buf = payload

	if _, err := j.f.WriteAt(frame, j.size); err != nil {
		// Drop the partial frame so the next append starts clean.
		_ = j.f.Truncate(j.size)
		return fmt.Errorf("append %s: %w", rec.Op, err)
	}
	j.size += int64(len(frame))
	if j.mode == SyncAlways {
		if err := j.f.Sync(); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	return nil
}

// Reset empties the journal after its records were folded into a snapshot.
func (j *Journal) Reset() error {
	if j.f == nil {
		return ErrClosed
	}
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("reset journal: %w", err)
	}
	j.size = 0
	return j.f.Sync()
}

// Sync fsyncs the journal file.
func (j *Journal) Sync() error {
	if j.f == nil {
		return ErrClosed
	}
	return j.f.Sync()
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
