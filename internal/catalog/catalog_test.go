package catalog

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grow applies PlanGrow+ApplyGrow and then sets the size, the way the store
// does for a write that ends at size.
func grow(t *testing.T, c *Catalog, name string, size int64) int {
	t.Helper()
	i, err := c.Find(name)
	require.NoError(t, err)
	g, err := c.PlanGrow(i, size)
	require.NoError(t, err)
	i = c.ApplyGrow(g)
	if size > c.Entry(i).Size {
		require.NoError(t, c.SetSize(i, size))
	}
	return i
}

func TestCreateAppendsEmptyExtentAtTail(t *testing.T) {
	c := New(0)
	i, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 10)

	j, err := c.Create("b")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Equal(t, 1, j)
	assert.Equal(t, Extent{Start: 10, End: 10}, c.Entry(j).Extent)
	assert.Equal(t, int64(0), c.Entry(j).Size)
	require.NoError(t, c.Check(10))
}

func TestCreateErrors(t *testing.T) {
	c := New(8)
	_, err := c.Create("a")
	require.NoError(t, err)

	tests := []struct {
		name string
		want error
	}{
		{"a", ErrAlreadyExists},
		{"abcdefghi", ErrNameTooLong},
		{"", ErrInvalidName},
		{".", ErrInvalidName},
		{"..", ErrInvalidName},
		{"a/b", ErrInvalidName},
		{"nul\x00", ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(tt.name)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 1, c.Len())
}

func TestNameMaxBounds(t *testing.T) {
	assert.Equal(t, MaxNameLen, New(0).NameMax())
	assert.Equal(t, MaxNameLen, New(1000).NameMax())
	assert.Equal(t, 16, New(16).NameMax())
	assert.Equal(t, 253, MaxNameLen)

	c := New(0)
	_, err := c.Create(strings.Repeat("x", MaxNameLen))
	require.NoError(t, err)
	_, err = c.Create(strings.Repeat("y", MaxNameLen+1))
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestFindIsExactAndLiveOnly(t *testing.T) {
	c := New(0)
	i, err := c.Create("File")
	require.NoError(t, err)

	_, err = c.Find("file")
	require.ErrorIs(t, err, ErrNotFound)

	got, err := c.Find("File")
	require.NoError(t, err)
	assert.Equal(t, i, got)

	require.NoError(t, c.Remove(i))
	_, err = c.Find("File")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGrowTrailingExtendsInPlace(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)

	g, err := c.PlanGrow(0, 4)
	require.NoError(t, err)
	assert.False(t, g.Relocate)
	assert.Equal(t, int64(4), g.Extend)
	assert.Equal(t, Extent{0, 4}, g.To)

	assert.Equal(t, 0, c.ApplyGrow(g))
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Check(4))
}

func TestGrowWithinCapacityIsNoop(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 8)
	require.NoError(t, c.SetSize(0, 2))

	g, err := c.PlanGrow(0, 6)
	require.NoError(t, err)
	assert.True(t, g.None())
	assert.Equal(t, 0, c.ApplyGrow(g))
}

// The growth scenario: a grows after b was written behind it.
func TestGrowNonTrailingRelocates(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 3)
	_, err = c.Create("b")
	require.NoError(t, err)
	grow(t, c, "b", 3)

	i, err := c.Find("a")
	require.NoError(t, err)
	g, err := c.PlanGrow(i, 6)
	require.NoError(t, err)
	assert.True(t, g.Relocate)
	assert.Equal(t, Extent{0, 3}, g.From)
	assert.Equal(t, Extent{6, 12}, g.To)
	assert.Equal(t, int64(6), g.Extend)
	assert.Equal(t, int64(3), g.CopyLen)

	ni := c.ApplyGrow(g)
	require.NoError(t, c.SetSize(ni, 6))
	assert.Equal(t, 2, ni)

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Deleted, entries[0].State)
	assert.Equal(t, Extent{0, 3}, entries[0].Extent)
	assert.Equal(t, "b", entries[1].Name)
	assert.Equal(t, Extent{3, 6}, entries[1].Extent)
	assert.Equal(t, "a", entries[2].Name)
	assert.Equal(t, Extent{6, 12}, entries[2].Extent)
	require.NoError(t, c.Check(12))

	assert.Equal(t, []Listing{{"b", 3}, {"a", 6}}, c.List())
}

// An empty entry created behind a is still a tile, so a must move.
func TestGrowBeforeEmptyEntryRelocates(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 2)
	_, err = c.Create("b")
	require.NoError(t, err)

	g, err := c.PlanGrow(0, 4)
	require.NoError(t, err)
	assert.True(t, g.Relocate)
	c.ApplyGrow(g)
	require.NoError(t, c.Check(6))
}

func TestGrowTooLarge(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	_, err = c.PlanGrow(0, MaxOffset+1)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestSetSizeBounds(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 4)

	require.NoError(t, c.SetSize(0, 1))
	assert.Equal(t, int64(4), c.Entry(0).Capacity())
	require.Error(t, c.SetSize(0, 5))
	require.Error(t, c.SetSize(0, -1))
	require.ErrorIs(t, c.SetSize(7, 0), ErrNotFound)
}

func TestRemoveKeepsTombstone(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 5)

	require.NoError(t, c.Remove(0))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.LiveCount())
	assert.Equal(t, Extent{0, 5}, c.Entry(0).Extent)
	assert.Equal(t, int64(5), c.DeadBytes())
	require.ErrorIs(t, c.Remove(0), ErrNotFound)
	require.NoError(t, c.Check(5))
}

func TestRecreateAfterRemoveIsFresh(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 5)
	require.NoError(t, c.Remove(0))

	i, err := c.Create("a")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, int64(0), c.Entry(i).Size)
	assert.Equal(t, Extent{5, 5}, c.Entry(i).Extent)
}

func TestRename(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 3)
	_, err = c.Create("b")
	require.NoError(t, err)

	require.ErrorIs(t, c.Rename(0, "b"), ErrAlreadyExists)
	require.NoError(t, c.Rename(0, "a"))
	require.NoError(t, c.Rename(0, "c"))

	_, err = c.Find("a")
	require.ErrorIs(t, err, ErrNotFound)
	i, err := c.Find("c")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Equal(t, Extent{0, 3}, c.Entry(i).Extent)
	require.ErrorIs(t, c.Rename(0, "x/y"), ErrInvalidName)
	require.NoError(t, c.Check(3))
}

func TestCompactPlan(t *testing.T) {
	c := New(0)
	for _, n := range []string{"a", "b", "c"} {
		_, err := c.Create(n)
		require.NoError(t, err)
		grow(t, c, n, 4)
	}
	bi, err := c.Find("b")
	require.NoError(t, err)
	require.NoError(t, c.Remove(bi))
	ci, err := c.Find("c")
	require.NoError(t, err)
	require.NoError(t, c.SetSize(ci, 1))

	p := c.PlanCompact()
	assert.Equal(t, int64(5), p.End)
	assert.Equal(t, 1, p.Dropped)
	assert.Equal(t, []Move{
		{Name: "a", From: Extent{0, 4}, To: Extent{0, 4}},
		{Name: "c", From: Extent{8, 9}, To: Extent{4, 5}},
	}, p.Moves)

	out := c.Compacted(p)
	require.NoError(t, out.Check(5))
	assert.Equal(t, []Listing{{"a", 4}, {"c", 1}}, out.List())
	assert.Equal(t, int64(0), out.DeadBytes())
	// Receiver untouched.
	assert.Equal(t, 3, c.Len())
}

func TestCheckDetectsCorruption(t *testing.T) {
	c := New(0)
	_, err := c.Create("a")
	require.NoError(t, err)
	grow(t, c, "a", 4)
	_, err = c.Create("b")
	require.NoError(t, err)
	grow(t, c, "b", 4)

	require.ErrorIs(t, c.Check(7), ErrCorrupt)

	c.entries[1].Extent.Start = 3
	require.ErrorIs(t, c.Check(-1), ErrCorrupt)
	c.entries[1].Extent.Start = 4

	c.entries[1].Size = 5
	require.ErrorIs(t, c.Check(-1), ErrCorrupt)
	c.entries[1].Size = 4

	c.entries[1].Name = "a"
	require.ErrorIs(t, c.Check(-1), ErrCorrupt)
}

// Random mutation sequences keep every invariant after every step.
func TestRandomMutationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c := New(0)
	names := []string{"a", "b", "c", "d", "e", "f"}
	prevLen := 0

	for step := range 2000 {
		name := names[rng.IntN(len(names))]
		i, findErr := c.Find(name)
		switch op := rng.IntN(5); {
		case op == 0 || findErr != nil:
			if findErr != nil {
				_, err := c.Create(name)
				require.NoError(t, err)
			}
		case op == 1:
			grow(t, c, name, int64(rng.IntN(64)))
		case op == 2:
			require.NoError(t, c.SetSize(i, rng.Int64N(c.Entry(i).Capacity()+1)))
		case op == 3:
			require.NoError(t, c.Remove(i))
		case op == 4:
			to := names[rng.IntN(len(names))]
			_, taken := c.live[to]
			err := c.Rename(i, to)
			if taken && to != name {
				require.ErrorIs(t, err, ErrAlreadyExists)
			} else {
				require.NoError(t, err)
			}
		}
		require.NoError(t, c.Check(c.End()), "step %d", step)
		require.GreaterOrEqual(t, c.Len(), prevLen, "entry count decreased at step %d", step)
		prevLen = c.Len()

		if step%500 == 499 {
			live := c.List()
			c = c.Compacted(c.PlanCompact())
			require.NoError(t, c.Check(c.End()))
			assert.Equal(t, live, c.List())
			assert.Equal(t, c.LiveBytes(), c.End())
			prevLen = c.Len()
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New(0)
	for _, n := range []string{"alpha", "beta", "gamma"} {
		_, err := c.Create(n)
		require.NoError(t, err)
		grow(t, c, n, int64(len(n)))
	}
	grow(t, c, "alpha", 20)
	bi, err := c.Find("beta")
	require.NoError(t, err)
	require.NoError(t, c.Remove(bi))

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	assert.Equal(t, EncodedLen(c.Len()), int64(buf.Len()))

	got, err := Decode(bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, c.Entries(), got.Entries())
	assert.Equal(t, c.List(), got.List())
	require.NoError(t, got.Check(c.End()))

	// Rewriting an unchanged catalog is byte-identical.
	var again bytes.Buffer
	require.NoError(t, got.Encode(&again))
	assert.Equal(t, buf.Bytes(), again.Bytes())
}

func TestEncodeRecordLayout(t *testing.T) {
	c := New(0)
	_, err := c.Create("x")
	require.NoError(t, err)
	grow(t, c, "x", 7)
	require.NoError(t, c.SetSize(0, 5))

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	raw := buf.Bytes()
	require.Len(t, raw, 4+RecordSize)
	assert.Equal(t, []byte{1, 0, 0, 0}, raw[:4])
	assert.Equal(t, []byte("/x\x00"), raw[4:7])
	assert.Equal(t, []byte{5, 0, 0, 0}, raw[4+256:4+260])
	assert.Equal(t, []byte{7, 0, 0, 0}, raw[4+260:4+264])
}

func TestDecodeEmpty(t *testing.T) {
	c, err := Decode(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.End())
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	valid := func() []byte {
		c := New(0)
		for _, n := range []string{"a", "b"} {
			_, err := c.Create(n)
			require.NoError(t, err)
			grow(t, c, n, 4)
		}
		var buf bytes.Buffer
		require.NoError(t, c.Encode(&buf))
		return buf.Bytes()
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short header", func(b []byte) []byte { return b[:2] }},
		{"truncated record", func(b []byte) []byte { return b[:len(b)-1] }},
		{"count too high", func(b []byte) []byte { b[0] = 3; return b }},
		{"decreasing end", func(b []byte) []byte {
			b[4+RecordSize+260] = 2
			return b
		}},
		{"size over capacity", func(b []byte) []byte {
			b[4+256] = 9
			return b
		}},
		{"unterminated name", func(b []byte) []byte {
			for i := range 255 {
				b[4+i] = 'z'
			}
			return b
		}},
		{"duplicate live name", func(b []byte) []byte {
			b[4+RecordSize+1] = 'a'
			return b
		}},
		{"nested name", func(b []byte) []byte {
			copy(b[4+2:], "/x")
			return b
		}},
		{"dot name", func(b []byte) []byte {
			b[4+1] = '.'
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.mutate(valid())), 0)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
