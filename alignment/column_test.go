package alignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halkit/hal/haltypes"
)

func columnGenomes(c *Column) map[string][]haltypes.Position {
	out := make(map[string][]haltypes.Position)
	for _, e := range c.Entries() {
		out[e.Sequence.Genome().Name()] = append(out[e.Sequence.Genome().Name()], e.Positions...)
	}
	return out
}

// Star-with-self: root R with one child L, both length 30, three top
// segments in L mapping one-to-one. Every column must hold exactly R and L
// at equal positions.
func TestColumnIteratorStar(t *testing.T) {
	a := identityChain(30, 10, []string{"R", "L"}, map[string][]string{"R": {"L"}})
	ref, err := a.Genome("L")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 0, haltypes.NullPosition, ColumnOptions{})
	require.NoError(t, err)

	n := 0
	for !it.AtEnd() {
		col := it.Column()
		require.Equal(t, 2, col.NumEntries(), "column %d", n)
		byGenome := columnGenomes(col)
		assert.Equal(t, []haltypes.Position{col.RefPosition}, byGenome["L"])
		assert.Equal(t, []haltypes.Position{col.RefPosition}, byGenome["R"])
		n++
		require.NoError(t, it.ToRight())
	}
	assert.Equal(t, 30, n)
}

// Grandparent/father/two-sons: four genomes, identity mapping, every column
// reaches all four at equal positions.
func TestColumnIteratorDeepTraversal(t *testing.T) {
	a := identityChain(100, 10, []string{"G", "F", "S1", "S2"},
		map[string][]string{"G": {"F"}, "F": {"S1", "S2"}})
	ref, err := a.Genome("S1")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 0, haltypes.NullPosition, ColumnOptions{})
	require.NoError(t, err)

	n := 0
	for !it.AtEnd() {
		col := it.Column()
		require.Equal(t, 4, col.NumEntries(), "column %d", n)
		for genome, positions := range columnGenomes(col) {
			assert.Equal(t, []haltypes.Position{col.RefPosition}, positions, "genome %s at column %d", genome, n)
		}
		n++
		require.NoError(t, it.ToRight())
	}
	assert.Equal(t, 100, n)
}

func TestColumnIteratorTargetsAndAncestors(t *testing.T) {
	a := identityChain(100, 10, []string{"G", "F", "S1", "S2"},
		map[string][]string{"G": {"F"}, "F": {"S1", "S2"}})
	ref, err := a.Genome("S1")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 0, 0, ColumnOptions{Targets: map[string]bool{"S1": true, "S2": true}})
	require.NoError(t, err)
	byGenome := columnGenomes(it.Column())
	assert.Len(t, byGenome, 2)
	assert.Contains(t, byGenome, "S1")
	assert.Contains(t, byGenome, "S2")

	it, err = NewColumnIterator(ref, 0, 0, ColumnOptions{NoAncestors: true})
	require.NoError(t, err)
	byGenome = columnGenomes(it.Column())
	assert.Len(t, byGenome, 2, "internal genomes G and F must be dropped")
	assert.NotContains(t, byGenome, "G")
	assert.NotContains(t, byGenome, "F")
}

// paralogyPair builds R with one child L where L's two top segments both map
// to R's single parent region, linked in a 2-cycle.
func paralogyPair() *memAlignment {
	a := newMemAlignment()
	a.addGenome("R", "", 10)
	a.addGenome("L", "R", 20)
	r, l := a.genomes["R"], a.genomes["L"]
	r.bottoms = []BottomSegment{{
		Start:         0,
		Length:        10,
		TopParseIndex: haltypes.NullIndex,
		ChildIndex:    []haltypes.ArrayIndex{0},
		ChildReversed: []bool{false},
	}}
	l.tops = []TopSegment{
		{Start: 0, Length: 10, ParentIndex: 0, BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: 1},
		{Start: 10, Length: 10, ParentIndex: 0, BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: 0},
	}
	return a
}

func TestColumnIteratorParalogyFilter(t *testing.T) {
	a := paralogyPair()
	ref, err := a.Genome("R")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 3, 3, ColumnOptions{})
	require.NoError(t, err)
	byGenome := columnGenomes(it.Column())
	assert.Equal(t, []haltypes.Position{3, 13}, byGenome["L"], "both paralogs by default")

	it, err = NewColumnIterator(ref, 3, 3, ColumnOptions{NoDupes: true})
	require.NoError(t, err)
	byGenome = columnGenomes(it.Column())
	assert.Equal(t, []haltypes.Position{3}, byGenome["L"], "one paralog with noDupes")

	it, err = NewColumnIterator(ref, 3, 3, ColumnOptions{OnlyOrthologs: true})
	require.NoError(t, err)
	byGenome = columnGenomes(it.Column())
	assert.Equal(t, []haltypes.Position{3}, byGenome["L"], "onlyOrthologs suppresses paralog expansion")
}

func TestColumnIteratorUnique(t *testing.T) {
	a := paralogyPair()
	ref, err := a.Genome("R")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 0, 0, ColumnOptions{Unique: true})
	require.NoError(t, err)
	byGenome := columnGenomes(it.Column())
	assert.Len(t, byGenome["L"], 1, "unique keeps one entry per genome")
}

// insertionBudget builds L with an unaligned middle segment of length 10
// between two aligned flanks.
func insertionBudget() *memAlignment {
	a := newMemAlignment()
	a.addGenome("R", "", 20)
	a.addGenome("L", "R", 30)
	r, l := a.genomes["R"], a.genomes["L"]
	r.bottoms = []BottomSegment{
		{Start: 0, Length: 10, TopParseIndex: haltypes.NullIndex, ChildIndex: []haltypes.ArrayIndex{0}, ChildReversed: []bool{false}},
		{Start: 10, Length: 10, TopParseIndex: haltypes.NullIndex, ChildIndex: []haltypes.ArrayIndex{2}, ChildReversed: []bool{false}},
	}
	l.tops = []TopSegment{
		{Start: 0, Length: 10, ParentIndex: 0, BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex},
		{Start: 10, Length: 10, ParentIndex: haltypes.NullIndex, BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex},
		{Start: 20, Length: 10, ParentIndex: 1, BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex},
	}
	return a
}

func TestColumnIteratorInsertionBudget(t *testing.T) {
	a := insertionBudget()
	ref, err := a.Genome("L")
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		budget  haltypes.Position
		entries int
	}{
		{"zero budget never follows an unaligned span", 0, 1},
		{"span longer than budget truncates the branch", 5, 1},
		{"span within budget bridges to the parent", 100, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			it, err := NewColumnIterator(ref, 15, 15, ColumnOptions{MaxInsertLength: tc.budget})
			require.NoError(t, err)
			assert.Equal(t, tc.entries, it.Column().NumEntries())
		})
	}
}

func TestColumnIteratorReverseStrand(t *testing.T) {
	a := identityChain(30, 10, []string{"R", "L"}, map[string][]string{"R": {"L"}})
	ref, err := a.Genome("L")
	require.NoError(t, err)

	it, err := NewColumnIterator(ref, 0, 29, ColumnOptions{ReverseStrand: true})
	require.NoError(t, err)

	var walked []haltypes.Position
	for !it.AtEnd() {
		walked = append(walked, it.Column().RefPosition)
		require.NoError(t, it.ToRight())
	}
	require.Len(t, walked, 30)
	assert.Equal(t, haltypes.Position(29), walked[0])
	assert.Equal(t, haltypes.Position(0), walked[29])
}

func TestColumnIteratorBounds(t *testing.T) {
	a := identityChain(30, 10, []string{"R", "L"}, map[string][]string{"R": {"L"}})
	ref, err := a.Genome("L")
	require.NoError(t, err)

	_, err = NewColumnIterator(ref, -1, 5, ColumnOptions{})
	assert.True(t, haltypes.Is(err, haltypes.OutOfRange))
	_, err = NewColumnIterator(ref, 0, 30, ColumnOptions{})
	assert.True(t, haltypes.Is(err, haltypes.OutOfRange))
	_, err = NewColumnIterator(ref, 10, 5, ColumnOptions{})
	assert.True(t, haltypes.Is(err, haltypes.OutOfRange))

	it, err := NewColumnIterator(ref, 29, haltypes.NullPosition, ColumnOptions{})
	require.NoError(t, err)
	require.NoError(t, it.ToRight())
	assert.True(t, it.AtEnd())
	assert.True(t, haltypes.Is(it.ToRight(), haltypes.OutOfRange))
}
