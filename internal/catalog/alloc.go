package catalog

import "fmt"

// Growth describes how an entry reaches a larger capacity. It is computed by
// PlanGrow without touching the catalog so the caller can perform the Data
// Region I/O first and commit with ApplyGrow afterwards.
type Growth struct {
	Index int
	// Extend is the number of bytes to append to the Data Region.
	Extend int64
	// Relocate is set when the entry is not the last tile and must move to
	// a fresh extent at the tail.
	Relocate bool
	From     Extent
	To       Extent
	// CopyLen is the number of content bytes to copy from From to To when
	// relocating.
	CopyLen int64
}

// None reports whether the growth is a no-op.
func (g Growth) None() bool { return g.Extend == 0 && !g.Relocate }

// PlanCreate validates name for a new entry and returns the zero-length
// extent it would receive.
func (c *Catalog) PlanCreate(name string) (Extent, error) {
	if err := c.ValidateName(name); err != nil {
		return Extent{}, err
	}
	if _, ok := c.live[name]; ok {
		return Extent{}, fmt.Errorf("%q: %w", name, ErrAlreadyExists)
	}
	end := c.End()
	return Extent{Start: end, End: end}, nil
}

// Create appends a Live, empty entry at the tail of the Data Region.
// Deleted space is never reused.
func (c *Catalog) Create(name string) (int, error) {
	ext, err := c.PlanCreate(name)
	if err != nil {
		return -1, err
	}
	c.entries = append(c.entries, Entry{Name: name, Extent: ext, State: Live})
	i := len(c.entries) - 1
	c.live[name] = i
	return i, nil
}

// PlanGrow computes how entry i reaches at least capacity bytes. A capacity
// at or below the current one yields a no-op Growth.
func (c *Catalog) PlanGrow(i int, capacity int64) (Growth, error) {
	if err := c.checkLive(i); err != nil {
		return Growth{}, err
	}
	e := c.entries[i]
	g := Growth{Index: i, From: e.Extent, To: e.Extent}
	if capacity <= e.Capacity() {
		return g, nil
	}
	if capacity > MaxOffset {
		return Growth{}, fmt.Errorf("capacity %d for %q: %w", capacity, e.Name, ErrTooLarge)
	}

	if i == len(c.entries)-1 {
		g.Extend = capacity - e.Capacity()
		g.To = Extent{Start: e.Extent.Start, End: e.Extent.Start + capacity}
	} else {
		end := c.End()
		g.Extend = capacity
		g.Relocate = true
		g.To = Extent{Start: end, End: end + capacity}
		g.CopyLen = e.Size
	}
	if g.To.End > MaxOffset {
		return Growth{}, fmt.Errorf("data region end %d: %w", g.To.End, ErrTooLarge)
	}
	return g, nil
}

// ApplyGrow commits a Growth produced by PlanGrow against the same catalog
// state and returns the entry's index afterwards. Relocation leaves a
// tombstone in the old slot and moves the entry to the tail slot so record
// order keeps matching extent order.
func (c *Catalog) ApplyGrow(g Growth) int {
	if g.None() {
		return g.Index
	}
	if !g.Relocate {
		c.entries[g.Index].Extent = g.To
		return g.Index
	}
	moved := c.entries[g.Index]
	moved.Extent = g.To
	c.entries[g.Index] = Entry{Extent: g.From, State: Deleted}
	c.entries = append(c.entries, moved)
	i := len(c.entries) - 1
	c.live[moved.Name] = i
	return i
}

// Move is one extent copy performed by compaction.
type Move struct {
	Name string
	From Extent
	To   Extent
}

// CompactPlan lays Live entries out contiguously in catalog order, each
// trimmed to its size.
type CompactPlan struct {
	Moves   []Move
	End     int64
	Dropped int
}

// PlanCompact computes the compacted layout without changing the catalog.
func (c *Catalog) PlanCompact() CompactPlan {
	var p CompactPlan
	for _, e := range c.entries {
		if !e.Live() {
			p.Dropped++
			continue
		}
		p.Moves = append(p.Moves, Move{
			Name: e.Name,
			From: Extent{Start: e.Extent.Start, End: e.Extent.Start + e.Size},
			To:   Extent{Start: p.End, End: p.End + e.Size},
		})
		p.End += e.Size
	}
	return p
}

// Compacted returns a new catalog holding only the Live entries laid out per
// plan. The receiver is left unchanged so a failed compaction can keep using
// it.
func (c *Catalog) Compacted(p CompactPlan) *Catalog {
	out := New(c.nameMax)
	out.entries = make([]Entry, 0, len(p.Moves))
	for _, m := range p.Moves {
		out.entries = append(out.entries, Entry{
			Name:   m.Name,
			Size:   m.To.Len(),
			Extent: m.To,
			State:  Live,
		})
		out.live[m.Name] = len(out.entries) - 1
	}
	return out
}
