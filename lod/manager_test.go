package lod

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// stubAlignment is the minimal tree the manager's breadth-first DNA probe
// walks: one root genome whose ContainsDNAArray answer is configured.
type stubAlignment struct {
	path   string
	hasDNA bool
	closed bool
}

func (s *stubAlignment) RootName() string { return "root" }

func (s *stubAlignment) Genome(name string) (alignment.Genome, error) {
	return &stubGenome{a: s}, nil
}

func (s *stubAlignment) GenomeNames() []string { return []string{"root"} }

func (s *stubAlignment) Metadata() map[string]string { return nil }

func (s *stubAlignment) Format() string { return "stub" }

func (s *stubAlignment) Close() error {
	s.closed = true
	return nil
}

type stubGenome struct {
	alignment.Genome
	a *stubAlignment
}

func (g *stubGenome) ContainsDNAArray() bool { return g.a.hasDNA }

func (g *stubGenome) NumChildren() int { return 0 }

type stubOpener struct {
	dnaPaths map[string]bool
	opened   []string
	handles  []*stubAlignment
}

func (o *stubOpener) open(path string) (alignment.Alignment, error) {
	base := filepath.Base(path)
	if _, ok := o.dnaPaths[base]; !ok {
		return nil, haltypes.New(haltypes.NotFound, "no such file %s", path)
	}
	a := &stubAlignment{path: path, hasDNA: o.dnaPaths[base]}
	o.opened = append(o.opened, base)
	o.handles = append(o.handles, a)
	return a, nil
}

func writeIndex(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lod.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestManagerSelectsByQueryLength(t *testing.T) {
	opener := &stubOpener{dnaPaths: map[string]bool{"fine.hal": true, "coarse.hal": false}}
	m, err := LoadIndex(writeIndex(t, "0 fine.hal\n1000 coarse.hal\n"), opener.open)
	require.NoError(t, err)
	defer m.Close() // nolint: errcheck

	a, err := m.Alignment(500, false)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "fine.hal")

	a, err = m.Alignment(5000, false)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "coarse.hal")

	// DNA lives only in the finest level: needDNA falls back to it.
	a, err = m.Alignment(5000, true)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "fine.hal")
}

func TestManagerLazyOpenAndOwnership(t *testing.T) {
	opener := &stubOpener{dnaPaths: map[string]bool{"fine.hal": true, "coarse.hal": false}}
	m, err := LoadIndex(writeIndex(t, "0 fine.hal\n1000 coarse.hal\n"), opener.open)
	require.NoError(t, err)
	assert.Empty(t, opener.opened, "nothing opens until the first query")

	_, err = m.Alignment(10, false)
	require.NoError(t, err)
	_, err = m.Alignment(20, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"fine.hal"}, opener.opened, "a level opens exactly once")

	require.NoError(t, m.Close())
	for _, h := range opener.handles {
		assert.True(t, h.closed, "the manager closes every handle it opened")
	}
}

func TestManagerCoarseDNALevels(t *testing.T) {
	// The middle level still carries DNA; only beyond it does needDNA fall
	// back, and the watermark rises as levels are discovered.
	opener := &stubOpener{dnaPaths: map[string]bool{"fine.hal": true, "mid.hal": true, "coarse.hal": false}}
	m, err := LoadIndex(writeIndex(t, "0 fine.hal\n100 mid.hal\n1000 coarse.hal\n"), opener.open)
	require.NoError(t, err)
	defer m.Close() // nolint: errcheck

	a, err := m.Alignment(500, true)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "mid.hal")

	a, err = m.Alignment(5000, true)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "fine.hal",
		"coarse level without DNA falls back to the finest")
}

func TestManagerIndexParsing(t *testing.T) {
	opener := &stubOpener{dnaPaths: map[string]bool{"fine.hal": true}}

	_, err := LoadIndex(writeIndex(t, "1000 coarse.hal\n"), opener.open)
	require.Error(t, err, "an entry with minLen 0 must exist")
	assert.True(t, haltypes.Is(err, haltypes.BadFormat))

	_, err = LoadIndex(writeIndex(t, "0 fine.hal\nnot-a-number coarse.hal\n"), opener.open)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = LoadIndex(writeIndex(t, "0 fine.hal extra-field\n"), opener.open)
	require.Error(t, err)
	assert.True(t, haltypes.Is(err, haltypes.BadFormat))

	m, err := LoadIndex(writeIndex(t, "\n0 fine.hal\n\n"), opener.open)
	require.NoError(t, err, "blank lines are ignored")
	require.NoError(t, m.Close())
}

func TestManagerPathResolution(t *testing.T) {
	assert.Equal(t, "/abs/x.hal", resolvePath("/data/lod.txt", "/abs/x.hal"))
	assert.Equal(t, "/data/x.hal", resolvePath("/data/lod.txt", "x.hal"))
	assert.Equal(t, "http://host/x.hal", resolvePath("/data/lod.txt", "http://host/x.hal"), "URLs are left untouched")
	assert.Equal(t, "x.hal", resolvePath("lod.txt", "x.hal"))
}

func TestManagerSingleFile(t *testing.T) {
	opener := &stubOpener{dnaPaths: map[string]bool{"only.hal": true}}
	m := LoadSingleFile("only.hal", opener.open)
	a, err := m.Alignment(1<<40, true)
	require.NoError(t, err)
	assert.Contains(t, a.(*stubAlignment).path, "only.hal")
	require.NoError(t, m.Close())
}
