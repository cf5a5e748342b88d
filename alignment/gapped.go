package alignment

import "github.com/halkit/hal/haltypes"

// GappedIterator represents a maximal run of consecutive segments in which
// every unaligned stretch (segments whose parent — or chosen child — link is
// absent) totals at most gapThreshold bases, and every pair of aligned
// segments bounding such a stretch is collinear: same orientation, same
// target genome, monotonically advancing target coordinate with at most
// gapThreshold target bases skipped (section 4.8). Downstream analyses use
// it to ignore short indels without ever crossing a true breakpoint.
type GappedIterator struct {
	gapThreshold haltypes.Position
	// childIdx selects which child column determines collinearity when the
	// base iterator walks bottom segments; it is ignored for top iterators,
	// whose single parent link is unambiguous.
	childIdx int
	left     *SegmentIterator
	right    *SegmentIterator
}

// NewGappedIterator starts a gapped run at a single segment.
func NewGappedIterator(seg *SegmentIterator, gapThreshold haltypes.Position, childIdx int) *GappedIterator {
	return &GappedIterator{
		gapThreshold: gapThreshold,
		childIdx:     childIdx,
		left:         seg.Clone(),
		right:        seg.Clone(),
	}
}

// Left returns the run's leftmost segment iterator (read-only view; clone
// before mutating).
func (g *GappedIterator) Left() *SegmentIterator { return g.left }

// Right returns the run's rightmost segment iterator.
func (g *GappedIterator) Right() *SegmentIterator { return g.right }

type segLink struct {
	present  bool
	target   haltypes.ArrayIndex
	reversed bool
}

func (g *GappedIterator) linkOf(it *SegmentIterator) (segLink, error) {
	if it.IsTop() {
		seg, err := it.Genome().TopSegment(it.Index())
		if err != nil {
			return segLink{}, err
		}
		return segLink{present: seg.HasParent(), target: seg.ParentIndex, reversed: seg.ParentReversed}, nil
	}
	seg, err := it.Genome().BottomSegment(it.Index())
	if err != nil {
		return segLink{}, err
	}
	if g.childIdx < 0 || g.childIdx >= len(seg.ChildIndex) {
		return segLink{}, nil
	}
	return segLink{present: seg.HasChild(g.childIdx), target: seg.ChildIndex[g.childIdx], reversed: seg.ChildReversed[g.childIdx]}, nil
}

// targetGenome resolves the genome the iterator's links point into: the
// parent for a top iterator, the selected child for a bottom iterator.
func (g *GappedIterator) targetGenome(it *SegmentIterator) (Genome, error) {
	if it.IsTop() {
		parentName, ok := it.Genome().ParentName()
		if !ok {
			return nil, haltypes.New(haltypes.CorruptAlignment, "%s: aligned top segment but no parent genome", it.Genome().Name())
		}
		return it.Genome().Alignment().Genome(parentName)
	}
	childName, err := it.Genome().ChildName(g.childIdx)
	if err != nil {
		return nil, err
	}
	return it.Genome().Alignment().Genome(childName)
}

// targetGap sums the lengths of target-layer segments strictly between two
// link targets, the deleted bases a merged run would skip over.
func (g *GappedIterator) targetGap(it *SegmentIterator, lo, hi haltypes.ArrayIndex) (haltypes.Position, error) {
	target, err := g.targetGenome(it)
	if err != nil {
		return 0, err
	}
	var gap haltypes.Position
	for i := lo + 1; i < hi; i++ {
		if it.IsTop() {
			seg, err := target.BottomSegment(i)
			if err != nil {
				return 0, err
			}
			gap += seg.Length
		} else {
			seg, err := target.TopSegment(i)
			if err != nil {
				return 0, err
			}
			gap += seg.Length
		}
	}
	return gap, nil
}

// Compatible reports whether appending next (beyond cur, in either array
// direction) preserves the gapped invariant. An unaligned next is
// compatible while its own length fits the threshold; two aligned segments
// are compatible when collinear, allowing a target-side skip (a deletion)
// of at most the threshold.
func (g *GappedIterator) Compatible(cur, next *SegmentIterator) (bool, error) {
	nextLink, err := g.linkOf(next)
	if err != nil {
		return false, err
	}
	if !nextLink.present {
		length, err := next.Length()
		if err != nil {
			return false, err
		}
		return length <= g.gapThreshold, nil
	}
	curLink, err := g.linkOf(cur)
	if err != nil {
		return false, err
	}
	if !curLink.present {
		// The run has no aligned anchor yet; the first aligned segment
		// establishes it.
		return true, nil
	}
	if curLink.reversed != nextLink.reversed {
		return false, nil
	}
	diff := int64(nextLink.target) - int64(curLink.target)
	if next.Index() < cur.Index() {
		diff = -diff
	}
	if curLink.reversed {
		diff = -diff
	}
	if diff < 1 {
		return false, nil
	}
	if diff == 1 {
		return true, nil
	}
	lo, hi := curLink.target, nextLink.target
	if lo > hi {
		lo, hi = hi, lo
	}
	gap, err := g.targetGap(cur, lo, hi)
	if err != nil {
		return false, err
	}
	return gap <= g.gapThreshold, nil
}

// ExtendRight attempts to grow the run rightward to the next aligned,
// collinear segment, absorbing any unaligned stretch of total length at
// most gapThreshold on the way. It returns false (run unchanged) at the
// array end, at an oversized gap, or at a true breakpoint.
func (g *GappedIterator) ExtendRight() (bool, error) {
	return g.extend(g.right, (*SegmentIterator).ToRight, func(next *SegmentIterator) {
		g.right = next
	})
}

// ExtendLeft attempts to grow the run leftward, symmetrically.
func (g *GappedIterator) ExtendLeft() (bool, error) {
	return g.extend(g.left, (*SegmentIterator).ToLeft, func(next *SegmentIterator) {
		g.left = next
	})
}

func (g *GappedIterator) extend(bound *SegmentIterator, step func(*SegmentIterator) error, commit func(*SegmentIterator)) (bool, error) {
	probe := bound.Clone()
	var gap haltypes.Position
	for {
		if err := step(probe); err != nil {
			return false, nil // nolint: nilerr -- running out of array simply ends the run
		}
		if probe.AtEnd() {
			return false, nil
		}
		link, err := g.linkOf(probe)
		if err != nil {
			return false, err
		}
		if !link.present {
			length, err := probe.Length()
			if err != nil {
				return false, err
			}
			gap += length
			if gap > g.gapThreshold {
				return false, nil
			}
			continue
		}
		ok, err := g.Compatible(bound, probe)
		if err != nil || !ok {
			return false, err
		}
		commit(probe)
		return true, nil
	}
}

// BuildMaximalGappedRun extends seg in both directions until the gapped
// invariant can no longer be preserved, returning the maximal run.
func BuildMaximalGappedRun(seg *SegmentIterator, gapThreshold haltypes.Position, childIdx int) (*GappedIterator, error) {
	g := NewGappedIterator(seg, gapThreshold, childIdx)
	for {
		ok, err := g.ExtendRight()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	for {
		ok, err := g.ExtendLeft()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	return g, nil
}
