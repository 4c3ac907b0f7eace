// Package catalog maps logical file names to extents in the Data Region.
//
// The catalog is an ordered sequence of entries whose extents tile the Data
// Region in record order: entry 0 starts at offset 0 and every entry starts
// where the previous one ends. Deleted entries stay in the sequence as
// tombstones until compaction, so the region never has unaccounted bytes.
//
// A Catalog is not safe for concurrent use. Callers hold one lock around every
// catalog mutation together with the Data Region I/O it implies.
package catalog

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MaxNameLen is the longest name the metadata record can hold: a 255-byte
	// field minus the leading '/' and the NUL terminator.
	MaxNameLen = nameFieldLen - 2

	// MaxOffset bounds sizes and extent ends to the int32 fields on disk.
	MaxOffset = math.MaxInt32
)

// State is the lifecycle state of an entry.
type State uint8

const (
	Live State = iota
	Deleted
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Extent is a half-open byte range [Start, End) in the Data Region.
type Extent struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the extent.
func (e Extent) Len() int64 { return e.End - e.Start }

func (e Extent) String() string { return fmt.Sprintf("[%d,%d)", e.Start, e.End) }

// Entry is one record of the catalog.
type Entry struct {
	Name   string
	Size   int64
	Extent Extent
	State  State
}

// Live reports whether the entry is a visible file.
func (e Entry) Live() bool { return e.State == Live }

// Capacity is the number of bytes reserved for the entry.
func (e Entry) Capacity() int64 { return e.Extent.Len() }

// Listing is a directory-listing view of a Live entry.
type Listing struct {
	Name string
	Size int64
}

// Catalog is the ordered, authoritative name-to-extent mapping.
type Catalog struct {
	entries []Entry
	live    map[string]int
	nameMax int
}

// New returns an empty catalog enforcing nameMax. Values outside
// (0, MaxNameLen] fall back to MaxNameLen.
func New(nameMax int) *Catalog {
	if nameMax <= 0 || nameMax > MaxNameLen {
		nameMax = MaxNameLen
	}
	return &Catalog{live: make(map[string]int), nameMax: nameMax}
}

// NameMax returns the enforced name length bound.
func (c *Catalog) NameMax() int { return c.nameMax }

// Len returns the number of entries, tombstones included.
func (c *Catalog) Len() int { return len(c.entries) }

// LiveCount returns the number of Live entries.
func (c *Catalog) LiveCount() int { return len(c.live) }

// End returns the length of the Data Region the catalog accounts for.
func (c *Catalog) End() int64 {
	if len(c.entries) == 0 {
		return 0
	}
	return c.entries[len(c.entries)-1].Extent.End
}

// Entry returns the entry at index i.
func (c *Catalog) Entry(i int) Entry { return c.entries[i] }

// Entries returns a copy of all entries in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ValidateName checks a bare name against the namespace rules.
func (c *Catalog) ValidateName(name string) error {
	return ValidName(name, c.nameMax)
}

// ValidName checks name against the namespace rules and a length bound in
// bytes.
func ValidName(name string, nameMax int) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if len(name) > nameMax {
		return fmt.Errorf("%d bytes (max %d): %w", len(name), nameMax, ErrNameTooLong)
	}
	return nil
}

// Find returns the index of the Live entry called name.
func (c *Catalog) Find(name string) (int, error) {
	i, ok := c.live[name]
	if !ok {
		return -1, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return i, nil
}

// List returns all Live entries in catalog order.
func (c *Catalog) List() []Listing {
	out := make([]Listing, 0, len(c.live))
	for _, e := range c.entries {
		if e.Live() {
			out = append(out, Listing{Name: e.Name, Size: e.Size})
		}
	}
	return out
}

// Remove marks the entry Deleted. Its extent stays in place as a tombstone.
func (c *Catalog) Remove(i int) error {
	if err := c.checkLive(i); err != nil {
		return err
	}
	delete(c.live, c.entries[i].Name)
	c.entries[i].Name = ""
	c.entries[i].State = Deleted
	return nil
}

// Rename changes the name of a Live entry in place.
func (c *Catalog) Rename(i int, newName string) error {
	if err := c.checkLive(i); err != nil {
		return err
	}
	if err := c.ValidateName(newName); err != nil {
		return err
	}
	old := c.entries[i].Name
	if old == newName {
		return nil
	}
	if _, ok := c.live[newName]; ok {
		return fmt.Errorf("%q: %w", newName, ErrAlreadyExists)
	}
	delete(c.live, old)
	c.entries[i].Name = newName
	c.live[newName] = i
	return nil
}

// SetSize updates the logical size of a Live entry within its capacity.
// Shrinking never releases capacity; that happens at compaction.
func (c *Catalog) SetSize(i int, size int64) error {
	if err := c.checkLive(i); err != nil {
		return err
	}
	e := c.entries[i]
	if size < 0 || size > e.Capacity() {
		return fmt.Errorf("size %d outside capacity %d of %q", size, e.Capacity(), e.Name)
	}
	c.entries[i].Size = size
	return nil
}

// LiveBytes returns the sum of Live sizes.
func (c *Catalog) LiveBytes() int64 {
	var n int64
	for _, e := range c.entries {
		if e.Live() {
			n += e.Size
		}
	}
	return n
}

// DeadBytes returns the bytes compaction would reclaim: tombstones plus the
// unused capacity of Live entries.
func (c *Catalog) DeadBytes() int64 {
	return c.End() - c.LiveBytes()
}

func (c *Catalog) checkLive(i int) error {
	if i < 0 || i >= len(c.entries) || !c.entries[i].Live() {
		return fmt.Errorf("index %d: %w", i, ErrNotFound)
	}
	return nil
}

// Check verifies every structural invariant. dataLen is the Data Region
// length the catalog must tile exactly; pass -1 to skip that comparison.
func (c *Catalog) Check(dataLen int64) error {
	var prev int64
	seen := make(map[string]int, len(c.live))
	for i, e := range c.entries {
		if e.Extent.Start != prev {
			return fmt.Errorf("%w: entry %d starts at %d, previous ends at %d", ErrCorrupt, i, e.Extent.Start, prev)
		}
		if e.Extent.End < e.Extent.Start {
			return fmt.Errorf("%w: entry %d has inverted extent %s", ErrCorrupt, i, e.Extent)
		}
		if e.Extent.End > MaxOffset {
			return fmt.Errorf("%w: entry %d extent %s beyond %d", ErrCorrupt, i, e.Extent, int64(MaxOffset))
		}
		if e.Size < 0 || e.Size > e.Capacity() {
			return fmt.Errorf("%w: entry %d size %d exceeds extent %s", ErrCorrupt, i, e.Size, e.Extent)
		}
		if e.Live() {
			if j, dup := seen[e.Name]; dup {
				return fmt.Errorf("%w: name %q used by entries %d and %d", ErrCorrupt, e.Name, j, i)
			}
			seen[e.Name] = i
			if idx, ok := c.live[e.Name]; !ok || idx != i {
				return fmt.Errorf("%w: index for %q out of sync", ErrCorrupt, e.Name)
			}
		}
		prev = e.Extent.End
	}
	if len(seen) != len(c.live) {
		return fmt.Errorf("%w: %d live names indexed, %d live entries", ErrCorrupt, len(c.live), len(seen))
	}
	if dataLen >= 0 && prev != dataLen {
		return fmt.Errorf("%w: extents tile %d bytes, data region is %d", ErrCorrupt, prev, dataLen)
	}
	return nil
}
