package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk record layout. The name field holds "/" + name + NUL, zero padded;
// an empty field marks a Deleted record.
const (
	nameFieldLen = 255
	sizeOffset   = 256
	endOffset    = 260
	RecordSize   = 264
	headerSize   = 4
)

// EncodedLen returns the metadata file length for n records.
func EncodedLen(n int) int64 { return headerSize + int64(n)*RecordSize }

// Encode writes the catalog in metadata file format.
func (c *Catalog) Encode(w io.Writer) error {
	if len(c.entries) > MaxOffset {
		return fmt.Errorf("encoding %d entries: %w", len(c.entries), ErrTooLarge)
	}
	buf := make([]byte, EncodedLen(len(c.entries)))
	binary.LittleEndian.PutUint32(buf, uint32(len(c.entries)))
	for i, e := range c.entries {
		rec := buf[headerSize+i*RecordSize : headerSize+(i+1)*RecordSize]
		if e.Live() {
			copy(rec[1:nameFieldLen], e.Name)
			rec[0] = '/'
		}
		if e.Size > MaxOffset || e.Extent.End > MaxOffset {
			return fmt.Errorf("encoding entry %d: %w", i, ErrTooLarge)
		}
		binary.LittleEndian.PutUint32(rec[sizeOffset:], uint32(e.Size))
		binary.LittleEndian.PutUint32(rec[endOffset:], uint32(e.Extent.End))
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads a metadata file and validates its structure. Every defect is
// reported as ErrCorrupt.
func Decode(r io.Reader, nameMax int) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: metadata is %d bytes, header needs %d", ErrCorrupt, len(raw), headerSize)
	}
	count := int64(binary.LittleEndian.Uint32(raw))
	if want := EncodedLen(int(count)); int64(len(raw)) != want {
		return nil, fmt.Errorf("%w: %d records need %d bytes, have %d", ErrCorrupt, count, want, len(raw))
	}

	c := New(nameMax)
	c.entries = make([]Entry, 0, count)
	var prev int64
	for i := 0; i < int(count); i++ {
		rec := raw[headerSize+i*RecordSize : headerSize+(i+1)*RecordSize]
		field := rec[:nameFieldLen]
		nul := bytes.IndexByte(field, 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: record %d name is not terminated", ErrCorrupt, i)
		}
		name := string(bytes.TrimPrefix(field[:nul], []byte{'/'}))
		size := int64(int32(binary.LittleEndian.Uint32(rec[sizeOffset:])))
		end := int64(int32(binary.LittleEndian.Uint32(rec[endOffset:])))

		if end < prev {
			return nil, fmt.Errorf("%w: record %d ends at %d before its start %d", ErrCorrupt, i, end, prev)
		}
		if size < 0 || size > end-prev {
			return nil, fmt.Errorf("%w: record %d size %d exceeds extent [%d,%d)", ErrCorrupt, i, size, prev, end)
		}

		e := Entry{Size: size, Extent: Extent{Start: prev, End: end}, State: Deleted}
		if name != "" {
			if err := ValidName(name, MaxNameLen); err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
			}
			if j, dup := c.live[name]; dup {
				return nil, fmt.Errorf("%w: name %q in records %d and %d", ErrCorrupt, name, j, i)
			}
			e.Name = name
			e.State = Live
			c.live[name] = i
		}
		c.entries = append(c.entries, e)
		prev = end
	}
	return c, nil
}
