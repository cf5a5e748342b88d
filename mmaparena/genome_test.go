package mmaparena

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

func testOpts() ArenaOptions {
	return ArenaOptions{InitSize: 4 << 10, MaxSize: 1 << 24}
}

func TestGenomeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.hal")
	a, err := CreateAlignment(path, testOpts())
	require.NoError(t, err)

	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	leaf, err := a.AddLeafGenome("leaf", "root")
	require.NoError(t, err)

	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{
		{Name: "chr1", Length: 10, NumBottom: 1},
		{Name: "chr2", Length: 11, NumBottom: 1},
	}, true))
	require.NoError(t, leaf.SetDimensions([]alignment.SequenceInfo{
		{Name: "chrA", Length: 21, NumTop: 2},
	}, true))

	// Odd lengths exercise the padded low nibble.
	require.NoError(t, root.SetString(0, "ACGTACGTAC"))
	require.NoError(t, root.SetString(10, "TTTTTNNNNNC"))
	require.NoError(t, leaf.SetString(0, "ACGTACGTACTTTTTNNNNNC"))

	require.NoError(t, root.SetBottomSegment(0, alignment.BottomSegment{
		Start: 0, Length: 10, TopParseIndex: haltypes.NullIndex,
		ChildIndex: []haltypes.ArrayIndex{0}, ChildReversed: []bool{false},
	}))
	require.NoError(t, root.SetBottomSegment(1, alignment.BottomSegment{
		Start: 10, Length: 11, TopParseIndex: haltypes.NullIndex,
		ChildIndex: []haltypes.ArrayIndex{1}, ChildReversed: []bool{true},
	}))
	require.NoError(t, leaf.SetTopSegment(0, alignment.TopSegment{
		Start: 0, Length: 10, ParentIndex: 0,
		BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex,
	}))
	require.NoError(t, leaf.SetTopSegment(1, alignment.TopSegment{
		Start: 10, Length: 11, ParentIndex: 1, ParentReversed: true,
		BottomParseIndex: haltypes.NullIndex, NextParalogyIndex: haltypes.NullIndex,
	}))

	require.NoError(t, a.SetMetadata("assembly", "test-v1"))
	require.NoError(t, leaf.SetGenomeMetadata("sample", "s1"))
	require.NoError(t, a.Close())

	re, err := OpenAlignment(path, false, testOpts())
	require.NoError(t, err)
	defer re.Close() // nolint: errcheck

	assert.Equal(t, "root", re.RootName())
	assert.Equal(t, []string{"root", "leaf"}, re.GenomeNames())
	assert.Equal(t, "test-v1", re.Metadata()["assembly"])
	require.NoError(t, re.VerifyDNAChecksums())

	rg, err := re.Genome("root")
	require.NoError(t, err)
	lg, err := re.Genome("leaf")
	require.NoError(t, err)

	assert.Equal(t, haltypes.Position(21), rg.SequenceLength())
	assert.Equal(t, 2, rg.NumBottomSegments())
	assert.Equal(t, 0, rg.NumTopSegments())
	assert.Equal(t, 1, rg.NumChildren())
	assert.Equal(t, "s1", lg.Metadata()["sample"])

	dna, err := rg.DNA(0, 21)
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGTACTTTTTNNNNNC", haltypes.DecodeString(dna))
	sub, err := rg.DNA(9, 3)
	require.NoError(t, err)
	assert.Equal(t, "CTT", haltypes.DecodeString(sub))

	seg, err := rg.BottomSegment(1)
	require.NoError(t, err)
	assert.Equal(t, haltypes.Position(10), seg.Start)
	assert.Equal(t, haltypes.ArrayIndex(1), seg.ChildIndex[0])
	assert.True(t, seg.ChildReversed[0])

	tseg, err := lg.TopSegment(1)
	require.NoError(t, err)
	assert.True(t, tseg.ParentReversed)
	assert.Equal(t, haltypes.ArrayIndex(1), tseg.ParentIndex)

	seq, err := rg.SequenceBySite(15)
	require.NoError(t, err)
	assert.Equal(t, "chr2", seq.Name())
	assert.Equal(t, haltypes.Position(10), seq.StartPosition())
	byName, err := rg.Sequence("chr1")
	require.NoError(t, err)
	assert.Equal(t, haltypes.Position(0), byName.StartPosition())
	_, err = rg.Sequence("chrX")
	assert.True(t, haltypes.Is(err, haltypes.NotFound))

	idx, err := rg.BottomSegmentAtSite(15)
	require.NoError(t, err)
	assert.Equal(t, haltypes.ArrayIndex(1), idx)
	_, err = rg.BottomSegmentAtSite(21)
	assert.True(t, haltypes.Is(err, haltypes.OutOfRange))
}

func TestEmptyGenome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.hal")
	a, err := CreateAlignment(path, testOpts())
	require.NoError(t, err)
	_, err = a.AddRootGenome("root")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	re, err := OpenAlignment(path, false, testOpts())
	require.NoError(t, err)
	g, err := re.Genome("root")
	require.NoError(t, err)
	assert.Equal(t, haltypes.Position(0), g.SequenceLength())
	assert.Equal(t, 0, g.NumTopSegments())
	assert.Equal(t, 0, g.NumBottomSegments())
	assert.False(t, g.ContainsDNAArray())
	require.NoError(t, re.Close())
}

func TestGenomeRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rename.hal")
	a, err := CreateAlignment(path, testOpts())
	require.NoError(t, err)
	root, err := a.AddRootGenome("anc0")
	require.NoError(t, err)
	_, err = a.AddLeafGenome("leaf", "anc0")
	require.NoError(t, err)

	// Shorter name: replaced in place.
	require.NoError(t, root.(*Genome).Rename("anc"))
	assert.Equal(t, "anc", a.RootName())

	// Longer name: a fresh record is allocated and the header swings.
	require.NoError(t, root.(*Genome).Rename("ancestral-genome"))
	assert.Equal(t, "ancestral-genome", a.RootName())
	require.NoError(t, a.Close())

	re, err := OpenAlignment(path, false, testOpts())
	require.NoError(t, err)
	assert.Equal(t, "ancestral-genome", re.RootName())
	lg, err := re.Genome("leaf")
	require.NoError(t, err)
	parent, ok := lg.ParentName()
	assert.True(t, ok)
	assert.Equal(t, "ancestral-genome", parent)
	require.NoError(t, re.Close())
}

func TestGenomeNoDNAArrays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodna.hal")
	a, err := CreateAlignment(path, testOpts())
	require.NoError(t, err)
	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "chr1", Length: 50, NumBottom: 0}}, false))
	assert.False(t, root.ContainsDNAArray())
	_, err = root.DNA(0, 1)
	assert.True(t, haltypes.Is(err, haltypes.NotFound))
	require.NoError(t, a.Close())
}

func TestReadOnlyAlignmentRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.hal")
	a, err := CreateAlignment(path, testOpts())
	require.NoError(t, err)
	root, err := a.AddRootGenome("root")
	require.NoError(t, err)
	require.NoError(t, root.SetDimensions([]alignment.SequenceInfo{{Name: "chr1", Length: 4, NumBottom: 0}}, true))
	require.NoError(t, a.Close())

	re, err := OpenAlignment(path, false, testOpts())
	require.NoError(t, err)
	g, err := re.Genome("root")
	require.NoError(t, err)
	wg := g.(*Genome)
	assert.True(t, haltypes.Is(wg.SetString(0, "ACGT"), haltypes.NotWritable))
	assert.True(t, haltypes.Is(wg.SetDimensions(nil, true), haltypes.NotWritable))
	assert.True(t, haltypes.Is(re.SetMetadata("k", "v"), haltypes.NotWritable))
	require.NoError(t, re.Close())
}
