package alignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halkit/hal/haltypes"
)

// gappedFixture: L has five top segments; segments 0,1 and 3,4 map
// collinearly to consecutive parent regions, segment 2 (length midLen) is
// unaligned.
func gappedFixture(midLen haltypes.Position) *memAlignment {
	a := newMemAlignment()
	a.addGenome("R", "", 40)
	a.addGenome("L", "R", 20+haltypes.Position(midLen))
	r, l := a.genomes["R"], a.genomes["L"]
	for i := 0; i < 4; i++ {
		r.bottoms = append(r.bottoms, BottomSegment{
			Start:         haltypes.Position(i) * 10,
			Length:        10,
			TopParseIndex: haltypes.NullIndex,
			ChildIndex:    []haltypes.ArrayIndex{haltypes.NullIndex},
			ChildReversed: []bool{false},
		})
	}
	starts := []haltypes.Position{0, 10, 20, 20 + midLen, 30 + midLen}
	lengths := []haltypes.Position{10, 10, midLen, 10, 10}
	parents := []haltypes.ArrayIndex{0, 1, haltypes.NullIndex, 2, 3}
	for i := range starts {
		l.tops = append(l.tops, TopSegment{
			Start:             starts[i],
			Length:            lengths[i],
			ParentIndex:       parents[i],
			BottomParseIndex:  haltypes.NullIndex,
			NextParalogyIndex: haltypes.NullIndex,
		})
		if parents[i].Valid() {
			r.bottoms[parents[i]].ChildIndex[0] = haltypes.ArrayIndex(i)
		}
	}
	return a
}

func TestGappedIteratorMergesShortGaps(t *testing.T) {
	a := gappedFixture(4)
	l, err := a.Genome("L")
	require.NoError(t, err)

	run, err := BuildMaximalGappedRun(NewTopIterator(l, 0, false), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(0), run.Left().Index())
	assert.Equal(t, haltypes.ArrayIndex(4), run.Right().Index(), "a 4-base unaligned span merges under threshold 5")
}

func TestGappedIteratorStopsAtLongGaps(t *testing.T) {
	a := gappedFixture(9)
	l, err := a.Genome("L")
	require.NoError(t, err)

	run, err := BuildMaximalGappedRun(NewTopIterator(l, 0, false), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(0), run.Left().Index())
	assert.Equal(t, haltypes.ArrayIndex(1), run.Right().Index(), "a 9-base span exceeds threshold 5")

	run, err = BuildMaximalGappedRun(NewTopIterator(l, 4, false), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(3), run.Left().Index(), "extendLeft stops at the same breakpoint")
}

func TestGappedIteratorBreakpoints(t *testing.T) {
	a := gappedFixture(4)
	l, err := a.Genome("L")
	require.NoError(t, err)

	// An orientation flip is a true breakpoint regardless of threshold.
	a.genomes["L"].tops[1].ParentReversed = true
	a.genomes["R"].bottoms[1].ChildReversed[0] = true
	run, err := BuildMaximalGappedRun(NewTopIterator(l, 0, false), 100, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(0), run.Right().Index())

	// A parent-side skip larger than the threshold (a long deletion)
	// likewise: jumping from parent 0 to parent 3 skips 20 bases.
	a.genomes["L"].tops[1].ParentReversed = false
	a.genomes["R"].bottoms[1].ChildReversed[0] = false
	a.genomes["L"].tops[1].ParentIndex = 3
	run, err = BuildMaximalGappedRun(NewTopIterator(l, 0, false), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(0), run.Right().Index())

	// The same skip merges once the threshold covers the deleted span.
	run, err = BuildMaximalGappedRun(NewTopIterator(l, 0, false), 25, 0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(1), run.Right().Index())
}

func TestGappedIteratorCompatible(t *testing.T) {
	a := gappedFixture(4)
	l, err := a.Genome("L")
	require.NoError(t, err)

	g := NewGappedIterator(NewTopIterator(l, 0, false), 5, 0)
	next := NewTopIterator(l, 1, false)
	ok, err := g.Compatible(g.Right(), next)
	require.NoError(t, err)
	assert.True(t, ok)

	tight := NewGappedIterator(NewTopIterator(l, 1, false), 2, 0)
	over := NewTopIterator(l, 2, false)
	ok, err = tight.Compatible(tight.Right(), over)
	require.NoError(t, err)
	assert.False(t, ok, "4-base gap exceeds threshold 2")
}
