package chunkstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/blob"
	"github.com/halkit/hal/haltypes"
)

func reopen(t *testing.T, path string) *Alignment {
	t.Helper()
	r, err := blob.LocalFile(path, false)
	require.NoError(t, err)
	a, err := OpenAlignment(path, r, CreationProps{})
	require.NoError(t, err)
	return a
}

func TestAlignmentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.hal")
	a, err := CreateAlignment(path, CreationProps{ChunkElems: 8})
	require.NoError(t, err)

	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	leaf, err := a.AddLeafGenome("leaf", "root")
	require.NoError(t, err)

	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{
		{Name: "chr1", Length: 30, NumBottom: 3},
	}, true))
	require.NoError(t, leaf.SetDimensions([]alignment.SequenceInfo{
		{Name: "chrA", Length: 30, NumTop: 3},
	}, true))

	require.NoError(t, root.SetString(0, "ACGTACGTACGTACGTACGTACGTACGTAC"))
	require.NoError(t, leaf.SetString(0, "ACGTACGTACGTACGTACGTACGTACGTAC"))
	for i := 0; i < 3; i++ {
		require.NoError(t, root.SetBottomSegment(haltypes.ArrayIndex(i), alignment.BottomSegment{
			Start: haltypes.Position(i) * 10, Length: 10, TopParseIndex: haltypes.NullIndex,
			ChildIndex: []haltypes.ArrayIndex{haltypes.ArrayIndex(i)}, ChildReversed: []bool{false},
		}))
		require.NoError(t, leaf.SetTopSegment(haltypes.ArrayIndex(i), alignment.TopSegment{
			Start: haltypes.Position(i) * 10, Length: 10, ParentIndex: haltypes.ArrayIndex(i),
			BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex,
		}))
	}
	require.NoError(t, a.SetMetadata("source", "synthetic"))
	require.NoError(t, root.SetGenomeMetadata("rank", "ancestor"))
	require.NoError(t, a.Close())

	re := reopen(t, path)
	defer re.Close() // nolint: errcheck

	assert.Equal(t, "root", re.RootName())
	assert.Equal(t, []string{"root", "leaf"}, re.GenomeNames())
	assert.Equal(t, "synthetic", re.Metadata()["source"])

	rg, err := re.Genome("root")
	require.NoError(t, err)
	lg, err := re.Genome("leaf")
	require.NoError(t, err)
	assert.Equal(t, "ancestor", rg.Metadata()["rank"])
	assert.Equal(t, 1, rg.NumChildren())
	child, err := rg.ChildName(0)
	require.NoError(t, err)
	assert.Equal(t, "leaf", child)
	pos, ok := rg.ChildIndexOf("leaf")
	assert.True(t, ok)
	assert.Equal(t, 0, pos)

	dna, err := lg.DNA(0, 30)
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGTACGTACGTACGTACGTACGTAC", haltypes.DecodeString(dna))
	sub, err := lg.DNA(7, 5)
	require.NoError(t, err)
	assert.Equal(t, "TACGT", haltypes.DecodeString(sub))

	for i := 0; i < 3; i++ {
		tseg, err := lg.TopSegment(haltypes.ArrayIndex(i))
		require.NoError(t, err)
		assert.Equal(t, haltypes.Position(i)*10, tseg.Start)
		assert.Equal(t, haltypes.ArrayIndex(i), tseg.ParentIndex)
		bseg, err := rg.BottomSegment(haltypes.ArrayIndex(i))
		require.NoError(t, err)
		assert.Equal(t, haltypes.ArrayIndex(i), bseg.ChildIndex[0])
	}

	idx, err := lg.TopSegmentAtSite(25)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(2), idx)
	_, err = lg.TopSegment(3)
	assert.True(t, haltypes.Is(err, haltypes.OutOfRange))
}

func TestSetDimensionsReplacesArrays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.hal")
	a, err := CreateAlignment(path, CreationProps{})
	require.NoError(t, err)
	root, err := a.AddRootGenome("root")
	require.NoError(t, err)

	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "chr1", Length: 10}}, true))
	require.NoError(t, root.SetString(0, "ACGTACGTAC"))
	// Re-declare with different dimensions: the old arrays are unlinked.
	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "chr1", Length: 4}}, true))
	require.NoError(t, root.SetString(0, "GGCC"))
	require.NoError(t, a.Close())

	re := reopen(t, path)
	g, err := re.Genome("root")
	require.NoError(t, err)
	assert.Equal(t, haltypes.Position(4), g.SequenceLength())
	dna, err := g.DNA(0, 4)
	require.NoError(t, err)
	assert.Equal(t, "GGCC", haltypes.DecodeString(dna))
	require.NoError(t, re.Close())
}

func TestEmptyAndDNALessGenomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.hal")
	a, err := CreateAlignment(path, CreationProps{})
	require.NoError(t, err)
	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	leaf, err := a.AddLeafGenome("leaf", "root")
	require.NoError(t, err)
	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "chr1", Length: 8, NumBottom: 1}}, false))
	_ = leaf // never dimensioned: stays empty
	require.NoError(t, a.Close())

	re := reopen(t, path)
	rg, err := re.Genome("root")
	require.NoError(t, err)
	assert.False(t, rg.ContainsDNAArray())
	lg, err := re.Genome("leaf")
	require.NoError(t, err)
	assert.Equal(t, haltypes.Position(0), lg.SequenceLength())
	assert.False(t, lg.ContainsDNAArray())
	require.NoError(t, re.Close())
}

func TestSingleBaseAndUnitSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit.hal")
	a, err := CreateAlignment(path, CreationProps{})
	require.NoError(t, err)
	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "one", Length: 1, NumBottom: 1}}, true))
	require.NoError(t, root.SetString(0, "G"))
	require.NoError(t, root.SetBottomSegment(0, alignment.BottomSegment{
		Start: 0, Length: 1, TopParseIndex: haltypes.NullIndex,
		ChildIndex: []haltypes.ArrayIndex{}, ChildReversed: []bool{},
	}))
	require.NoError(t, a.Close())

	re := reopen(t, path)
	g, err := re.Genome("root")
	require.NoError(t, err)
	dna, err := g.DNA(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "G", haltypes.DecodeString(dna))
	idx, err := g.BottomSegmentAtSite(0)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(0), idx)
	require.NoError(t, re.Close())
}
