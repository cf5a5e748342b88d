package alignment

import (
	"sort"

	"github.com/halkit/hal/haltypes"
)

// ColumnOptions enumerates exactly the construction options of section
// 4.10. The zero value walks the whole reachable tree forward.
type ColumnOptions struct {
	// Targets restricts returned entries to these genome names. Nil means
	// every reachable genome.
	Targets map[string]bool
	// MaxInsertLength bounds the unaligned span a branch may bridge when
	// descending into, or ascending from, a parent.
	MaxInsertLength haltypes.Position
	// NoDupes suppresses expansion through paralogy cycles.
	NoDupes bool
	// NoAncestors drops entries whose genome is internal to the tree.
	NoAncestors bool
	// ReverseStrand walks the reference on its reverse complement.
	ReverseStrand bool
	// Unique keeps at most one entry per genome per column.
	Unique bool
	// OnlyOrthologs follows only the single parent link when branching
	// through a parent; no paralogs are expanded anywhere in the walk.
	OnlyOrthologs bool
}

// ColumnEntry is one Sequence's contribution to a Column: the Sequence, and
// the DNA positions (within that Sequence) touched.
type ColumnEntry struct {
	Sequence  Sequence
	Positions []haltypes.Position
}

// Column is one homologous column: the reference's current position plus
// every reachable entry found by the traversal.
type Column struct {
	RefPosition haltypes.Position
	entries     map[Sequence][]haltypes.Position
}

// Entries returns the column's entries in a deterministic order (by genome
// name, then sequence name), for tests and deterministic consumers.
func (c *Column) Entries() []ColumnEntry {
	out := make([]ColumnEntry, 0, len(c.entries))
	for seq, positions := range c.entries {
		cp := append([]haltypes.Position(nil), positions...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		out = append(out, ColumnEntry{Sequence: seq, Positions: cp})
	}
	sort.Slice(out, func(i, j int) bool {
		gi, gj := out[i].Sequence.Genome().Name(), out[j].Sequence.Genome().Name()
		if gi != gj {
			return gi < gj
		}
		return out[i].Sequence.Name() < out[j].Sequence.Name()
	})
	return out
}

// NumEntries reports how many sequences contributed to the column; a genome
// whose positions fall in several of its sequences counts once per sequence.
func (c *Column) NumEntries() int { return len(c.entries) }

// ColumnIterator produces the sequence of homologous columns intersecting
// [position, lastPosition] on the reference genome, advancing one reference
// base per ToRight call (section 4.10 — the hardest subsystem).
type ColumnIterator struct {
	ref     Genome
	opts    ColumnOptions
	cursor  haltypes.Position
	last    haltypes.Position
	step    haltypes.Position
	ended   bool
	current *Column
}

// NewColumnIterator creates an iterator over the reference genome ref,
// covering [position, lastPosition]. lastPosition == haltypes.NullPosition
// means "to the end of the sequence".
func NewColumnIterator(ref Genome, position, lastPosition haltypes.Position, opts ColumnOptions) (*ColumnIterator, error) {
	seqLen := ref.SequenceLength()
	if position < 0 || position >= seqLen {
		return nil, haltypes.New(haltypes.OutOfRange, "NewColumnIterator: position %d out of [0,%d)", position, seqLen)
	}
	if lastPosition == haltypes.NullPosition {
		lastPosition = seqLen - 1
	}
	if lastPosition < position || lastPosition >= seqLen {
		return nil, haltypes.New(haltypes.OutOfRange, "NewColumnIterator: lastPosition %d out of [%d,%d)", lastPosition, position, seqLen)
	}
	it := &ColumnIterator{ref: ref, opts: opts, cursor: position, last: lastPosition, step: 1}
	if opts.ReverseStrand {
		// The reverse walk starts at lastPosition and runs down to position.
		it.cursor, it.last, it.step = lastPosition, position, -1
	}
	if err := it.recompute(); err != nil {
		return nil, err
	}
	return it, nil
}

// AtEnd holds when the reference cursor has passed lastPosition (or, walking
// the reverse strand, passed position) on the chosen strand.
func (it *ColumnIterator) AtEnd() bool { return it.ended }

// Column returns the most recently computed column.
func (it *ColumnIterator) Column() *Column { return it.current }

// ToRight advances the reference by one base along the chosen strand,
// discards the previous column, and recomputes (section 4.10's per-step
// contract). It is a caller error to call ToRight once AtEnd() holds.
func (it *ColumnIterator) ToRight() error {
	if it.ended {
		return haltypes.New(haltypes.OutOfRange, "ToRight: iterator already at end")
	}
	it.cursor += it.step
	if (it.step > 0 && it.cursor > it.last) || (it.step < 0 && it.cursor < it.last) {
		it.ended = true
		it.current = nil
		return nil
	}
	return it.recompute()
}

type siteKey struct {
	genome string
	pos    haltypes.Position
}

type visitKey struct {
	genome      string
	index       haltypes.ArrayIndex
	top         bool
	orientation bool
}

type branch struct {
	genome      Genome
	top         bool
	index       haltypes.ArrayIndex
	pos         haltypes.Position
	orientation bool
}

func (it *ColumnIterator) recompute() error {
	col := &Column{RefPosition: it.cursor, entries: make(map[Sequence][]haltypes.Position)}
	visited := make(map[visitKey]bool)
	seenGenome := make(map[string]bool)
	// A genome reached through both its top and bottom arrays at the same
	// site contributes one entry, not two.
	seenSite := make(map[siteKey]bool)
	// Backends hand out a fresh Sequence value per lookup; canonicalize so
	// all positions of one sequence land in one entry.
	seqCache := make(map[string]Sequence)

	var top bool
	var idx haltypes.ArrayIndex
	var err error
	if it.ref.NumTopSegments() > 0 {
		top = true
		idx, err = it.ref.TopSegmentAtSite(it.cursor)
	} else {
		top = false
		idx, err = it.ref.BottomSegmentAtSite(it.cursor)
	}
	if err != nil {
		return err
	}

	queue := []branch{{genome: it.ref, top: top, index: idx, pos: it.cursor, orientation: it.opts.ReverseStrand}}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]

		key := visitKey{genome: b.genome.Name(), index: b.index, top: b.top, orientation: b.orientation}
		if visited[key] {
			continue
		}
		visited[key] = true

		site := siteKey{genome: b.genome.Name(), pos: b.pos}
		if it.passesFilters(b.genome) && !seenSite[site] && !(it.opts.Unique && seenGenome[b.genome.Name()]) {
			seq, err := b.genome.SequenceBySite(b.pos)
			if err != nil {
				return err
			}
			ck := b.genome.Name() + "\x00" + seq.Name()
			if canonical, ok := seqCache[ck]; ok {
				seq = canonical
			} else {
				seqCache[ck] = seq
			}
			seenGenome[b.genome.Name()] = true
			seenSite[site] = true
			col.entries[seq] = append(col.entries[seq], b.pos-seq.StartPosition())
		}

		next, err := it.neighbors(b)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}

	it.current = col
	return nil
}

func (it *ColumnIterator) passesFilters(g Genome) bool {
	if it.opts.Targets != nil && !it.opts.Targets[g.Name()] {
		return false
	}
	if it.opts.NoAncestors && g.NumChildren() > 0 {
		return false
	}
	return true
}

// neighbors computes the Up, Down, and Paralog hops reachable from b,
// applying the maxInsertLength budget and the noDupes/onlyOrthologs gates
// (section 4.10's three kinds of hops).
func (it *ColumnIterator) neighbors(b branch) ([]branch, error) {
	var out []branch
	if b.top {
		seg, err := b.genome.TopSegment(b.index)
		if err != nil {
			return nil, err
		}

		parentIdx, parentReversed, ok, err := it.resolveParentLink(b.genome, b.index, seg)
		if err != nil {
			return nil, err
		}
		if ok {
			parentName, hasParent := b.genome.ParentName()
			if !hasParent {
				return nil, haltypes.New(haltypes.CorruptAlignment, "%s: top segment %d links to a parent but genome has none", b.genome.Name(), b.index)
			}
			parent, err := b.genome.Alignment().Genome(parentName)
			if err != nil {
				return nil, err
			}
			pseg, err := parent.BottomSegment(parentIdx)
			if err != nil {
				return nil, err
			}
			out = append(out, branch{
				genome:      parent,
				top:         false,
				index:       parentIdx,
				pos:         clampSite(pseg.Start, pseg.Length, b.pos-seg.Start, seg.Length),
				orientation: b.orientation != parentReversed,
			})
		}

		// Cross-layer hop: an internal genome reached through its top array
		// continues the walk down through its bottom array at the same DNA
		// position (the parse relationship of section 4.7); without it the
		// traversal would stop one generation away from the reference.
		if b.genome.NumBottomSegments() > 0 {
			bidx, err := b.genome.BottomSegmentAtSite(b.pos)
			if err == nil {
				out = append(out, branch{
					genome:      b.genome,
					top:         false,
					index:       bidx,
					pos:         b.pos,
					orientation: b.orientation,
				})
			} else if haltypes.KindOf(err) != haltypes.OutOfRange {
				return nil, err
			}
		}

		if !it.opts.NoDupes && !it.opts.OnlyOrthologs && seg.NextParalogyIndex.Valid() && seg.NextParalogyIndex != b.index {
			pseg, err := b.genome.TopSegment(seg.NextParalogyIndex)
			if err != nil {
				return nil, err
			}
			out = append(out, branch{
				genome:      b.genome,
				top:         true,
				index:       seg.NextParalogyIndex,
				pos:         clampSite(pseg.Start, pseg.Length, b.pos-seg.Start, seg.Length),
				orientation: b.orientation,
			})
		}
		return out, nil
	}

	seg, err := b.genome.BottomSegment(b.index)
	if err != nil {
		return nil, err
	}
	// Mirror of the top-side cross-layer hop: a non-root genome reached
	// through its bottom array continues the walk up through its top array.
	if b.genome.NumTopSegments() > 0 {
		tidx, err := b.genome.TopSegmentAtSite(b.pos)
		if err == nil {
			out = append(out, branch{
				genome:      b.genome,
				top:         true,
				index:       tidx,
				pos:         b.pos,
				orientation: b.orientation,
			})
		} else if haltypes.KindOf(err) != haltypes.OutOfRange {
			return nil, err
		}
	}
	for c := 0; c < b.genome.NumChildren(); c++ {
		if !seg.HasChild(c) {
			continue
		}
		childName, err := b.genome.ChildName(c)
		if err != nil {
			return nil, err
		}
		child, err := b.genome.Alignment().Genome(childName)
		if err != nil {
			return nil, err
		}
		cseg, err := child.TopSegment(seg.ChildIndex[c])
		if err != nil {
			return nil, err
		}
		out = append(out, branch{
			genome:      child,
			top:         true,
			index:       seg.ChildIndex[c],
			pos:         clampSite(cseg.Start, cseg.Length, b.pos-seg.Start, seg.Length),
			orientation: b.orientation != seg.ChildReversed[c],
		})
	}
	return out, nil
}

// resolveParentLink returns the parent bottom-segment index and orientation
// reachable Up from (genome, index, seg). When seg has no parent itself
// (it is an unaligned insertion relative to the parent) it looks one
// neighboring segment to either side for a parent link, only accepting the
// bridge if the unaligned span (the insertion segment's own length) is
// within opts.MaxInsertLength — the "insertion budget" of section 4.10,
// measured independently for this hop.
func (it *ColumnIterator) resolveParentLink(genome Genome, index haltypes.ArrayIndex, seg TopSegment) (haltypes.ArrayIndex, bool, bool, error) {
	if seg.HasParent() {
		return seg.ParentIndex, seg.ParentReversed, true, nil
	}
	if it.opts.MaxInsertLength <= 0 || seg.Length > it.opts.MaxInsertLength {
		return 0, false, false, nil
	}
	if int(index)+1 < genome.NumTopSegments() {
		rseg, err := genome.TopSegment(index + 1)
		if err != nil {
			return 0, false, false, err
		}
		if rseg.HasParent() {
			return rseg.ParentIndex, rseg.ParentReversed, true, nil
		}
	}
	if index > 0 {
		lseg, err := genome.TopSegment(index - 1)
		if err != nil {
			return 0, false, false, err
		}
		if lseg.HasParent() {
			return lseg.ParentIndex, lseg.ParentReversed, true, nil
		}
	}
	return 0, false, false, nil
}

// clampSite maps a relative offset computed against one segment's length
// onto another segment of (possibly) different length, used when a hop
// lands on a segment whose length differs from the one the offset was
// measured against (paralogs, or a bridged insertion).
func clampSite(newStart, newLength, offset, oldLength haltypes.Position) haltypes.Position {
	if oldLength <= 0 || offset < 0 {
		return newStart
	}
	if offset >= newLength {
		if newLength > 0 {
			offset = newLength - 1
		} else {
			offset = 0
		}
	}
	return newStart + offset
}
