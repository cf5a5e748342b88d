package alignment

import (
	"sort"

	"github.com/halkit/hal/haltypes"
)

// The traversal layer is exercised against a minimal in-memory
// implementation of the capability set; backend round-trip coverage lives
// with the backends and the façade.

type memAlignment struct {
	root    string
	order   []string
	genomes map[string]*memGenome
	parents map[string]string
	kids    map[string][]string
	meta    map[string]string
}

func newMemAlignment() *memAlignment {
	return &memAlignment{
		genomes: make(map[string]*memGenome),
		parents: make(map[string]string),
		kids:    make(map[string][]string),
		meta:    make(map[string]string),
	}
}

func (a *memAlignment) addGenome(name, parent string, seqLen haltypes.Position) *memGenome {
	g := &memGenome{a: a, name: name, seqLen: seqLen, meta: make(map[string]string)}
	a.genomes[name] = g
	a.order = append(a.order, name)
	if parent == "" {
		a.root = name
	} else {
		a.parents[name] = parent
		a.kids[parent] = append(a.kids[parent], name)
	}
	return g
}

func (a *memAlignment) RootName() string { return a.root }

func (a *memAlignment) Genome(name string) (Genome, error) {
	g, ok := a.genomes[name]
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "no genome %q", name)
	}
	return g, nil
}

func (a *memAlignment) GenomeNames() []string { return a.order }

func (a *memAlignment) Metadata() map[string]string { return a.meta }

func (a *memAlignment) Format() string { return "mem" }

func (a *memAlignment) Close() error { return nil }

type memGenome struct {
	a       *memAlignment
	name    string
	seqLen  haltypes.Position
	dna     []haltypes.Base
	tops    []TopSegment
	bottoms []BottomSegment
	meta    map[string]string
}

func (g *memGenome) Name() string { return g.name }

func (g *memGenome) Alignment() Alignment { return g.a }

func (g *memGenome) SequenceLength() haltypes.Position { return g.seqLen }

func (g *memGenome) NumTopSegments() int { return len(g.tops) }

func (g *memGenome) NumBottomSegments() int { return len(g.bottoms) }

func (g *memGenome) NumChildren() int { return len(g.a.kids[g.name]) }

func (g *memGenome) ChildName(i int) (string, error) {
	kids := g.a.kids[g.name]
	if i < 0 || i >= len(kids) {
		return "", haltypes.New(haltypes.OutOfRange, "no child %d", i)
	}
	return kids[i], nil
}

func (g *memGenome) ChildIndexOf(childName string) (int, bool) {
	for i, n := range g.a.kids[g.name] {
		if n == childName {
			return i, true
		}
	}
	return 0, false
}

func (g *memGenome) ParentName() (string, bool) {
	p, ok := g.a.parents[g.name]
	return p, ok
}

func (g *memGenome) Metadata() map[string]string { return g.meta }

func (g *memGenome) Sequence(name string) (Sequence, error) {
	if name != g.name {
		return nil, haltypes.New(haltypes.NotFound, "no sequence %q", name)
	}
	return &memSequence{g: g}, nil
}

// The fake models one sequence spanning the whole genome, which is all the
// traversal tests need.
func (g *memGenome) SequenceBySite(pos haltypes.Position) (Sequence, error) {
	if pos < 0 || pos >= g.seqLen {
		return nil, haltypes.New(haltypes.OutOfRange, "site %d out of [0,%d)", pos, g.seqLen)
	}
	return &memSequence{g: g}, nil
}

func (g *memGenome) SequenceNames() []string { return []string{g.name} }

func (g *memGenome) TopSegment(i haltypes.ArrayIndex) (TopSegment, error) {
	if int(i) >= len(g.tops) {
		return TopSegment{}, haltypes.New(haltypes.OutOfRange, "top segment %d out of [0,%d)", i, len(g.tops))
	}
	return g.tops[i], nil
}

func (g *memGenome) BottomSegment(i haltypes.ArrayIndex) (BottomSegment, error) {
	if int(i) >= len(g.bottoms) {
		return BottomSegment{}, haltypes.New(haltypes.OutOfRange, "bottom segment %d out of [0,%d)", i, len(g.bottoms))
	}
	return g.bottoms[i], nil
}

func (g *memGenome) DNA(start, length haltypes.Position) ([]haltypes.Base, error) {
	if start < 0 || start+length > haltypes.Position(len(g.dna)) {
		return nil, haltypes.New(haltypes.OutOfRange, "DNA range [%d,%d)", start, start+length)
	}
	return g.dna[start : start+length], nil
}

func (g *memGenome) ContainsDNAArray() bool { return len(g.dna) > 0 }

func (g *memGenome) TopSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return siteSearch(pos, len(g.tops), func(i int) (haltypes.Position, haltypes.Position) {
		return g.tops[i].Start, g.tops[i].Length
	})
}

func (g *memGenome) BottomSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return siteSearch(pos, len(g.bottoms), func(i int) (haltypes.Position, haltypes.Position) {
		return g.bottoms[i].Start, g.bottoms[i].Length
	})
}

func siteSearch(pos haltypes.Position, n int, at func(int) (haltypes.Position, haltypes.Position)) (haltypes.ArrayIndex, error) {
	if n == 0 {
		return 0, haltypes.New(haltypes.OutOfRange, "no segments")
	}
	i := sort.Search(n, func(i int) bool {
		start, _ := at(i)
		return start > pos
	})
	if i == 0 {
		return 0, haltypes.New(haltypes.OutOfRange, "site %d before first segment", pos)
	}
	i--
	start, length := at(i)
	if pos < start || pos >= start+length {
		return 0, haltypes.New(haltypes.OutOfRange, "site %d uncovered", pos)
	}
	return haltypes.ArrayIndex(i), nil
}

type memSequence struct {
	g *memGenome
}

func (s *memSequence) Name() string { return s.g.name }

func (s *memSequence) Genome() Genome { return s.g }

func (s *memSequence) StartPosition() haltypes.Position { return 0 }

func (s *memSequence) Length() haltypes.Position { return s.g.seqLen }

func (s *memSequence) FirstTopSegment() haltypes.ArrayIndex {
	if len(s.g.tops) == 0 {
		return haltypes.NullIndex
	}
	return 0
}

func (s *memSequence) NumTopSegments() int { return len(s.g.tops) }

func (s *memSequence) FirstBottomSegment() haltypes.ArrayIndex {
	if len(s.g.bottoms) == 0 {
		return haltypes.NullIndex
	}
	return 0
}

func (s *memSequence) NumBottomSegments() int { return len(s.g.bottoms) }

// identityChain builds the identical-mapping tree used by several tests:
// every genome has one sequence of total length, cut into equal segments,
// each segment mapping one-to-one straight down the tree.
func identityChain(total, segLen haltypes.Position, names []string, childrenOf map[string][]string) *memAlignment {
	a := newMemAlignment()
	parentOf := make(map[string]string)
	for p, kids := range childrenOf {
		for _, k := range kids {
			parentOf[k] = p
		}
	}
	for _, name := range names {
		a.addGenome(name, parentOf[name], total)
	}
	nSegs := int(total / segLen)
	for _, name := range names {
		g := a.genomes[name]
		kids := childrenOf[name]
		_, hasParent := parentOf[name]
		for i := 0; i < nSegs; i++ {
			start := haltypes.Position(i) * segLen
			if hasParent {
				g.tops = append(g.tops, TopSegment{
					Start:             start,
					Length:            segLen,
					ParentIndex:       haltypes.ArrayIndex(i),
					BottomParseIndex:  haltypes.NullIndex,
					NextParalogyIndex: haltypes.NullIndex,
				})
				if len(kids) > 0 {
					g.tops[i].BottomParseIndex = haltypes.ArrayIndex(i)
				}
			}
			if len(kids) > 0 {
				b := BottomSegment{
					Start:         start,
					Length:        segLen,
					TopParseIndex: haltypes.NullIndex,
					ChildIndex:    make([]haltypes.ArrayIndex, len(kids)),
					ChildReversed: make([]bool, len(kids)),
				}
				for c := range kids {
					b.ChildIndex[c] = haltypes.ArrayIndex(i)
				}
				if hasParent {
					b.TopParseIndex = haltypes.ArrayIndex(i)
				}
				g.bottoms = append(g.bottoms, b)
			}
		}
	}
	return a
}
