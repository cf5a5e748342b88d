package alignment

import (
	"github.com/pkg/errors"

	"github.com/halkit/hal/haltypes"
)

// SegmentIterator walks the top or bottom segment array of one genome,
// forward or reverse according to its orientation flag, and can hop across
// layers (parse), across generations (parent/child), or around a paralogy
// cycle. It holds a current array index, an orientation flag, and an
// optional slice offset into the current segment for callers that logically
// start mid-segment (section 4.7).
//
// A SegmentIterator is a view: it never outlives the Genome it was created
// from, and it owns only its own cursor state.
type SegmentIterator struct {
	genome      Genome
	top         bool // true: walks TopSegments; false: walks BottomSegments.
	index       haltypes.ArrayIndex
	sliceOffset haltypes.Position
	reversed    bool
}

// NewTopIterator creates an iterator over g's top-segment array, starting at
// startIndex with the given orientation.
func NewTopIterator(g Genome, startIndex haltypes.ArrayIndex, reversed bool) *SegmentIterator {
	return &SegmentIterator{genome: g, top: true, index: startIndex, reversed: reversed}
}

// NewBottomIterator creates an iterator over g's bottom-segment array.
func NewBottomIterator(g Genome, startIndex haltypes.ArrayIndex, reversed bool) *SegmentIterator {
	return &SegmentIterator{genome: g, top: false, index: startIndex, reversed: reversed}
}

// Genome returns the genome this iterator walks.
func (it *SegmentIterator) Genome() Genome { return it.genome }

// IsTop reports whether this iterator walks the top-segment array.
func (it *SegmentIterator) IsTop() bool { return it.top }

// Index returns the current array index.
func (it *SegmentIterator) Index() haltypes.ArrayIndex { return it.index }

// SliceOffset returns the offset into the current segment the iterator
// logically starts from.
func (it *SegmentIterator) SliceOffset() haltypes.Position { return it.sliceOffset }

// Reversed reports the iterator's orientation flag.
func (it *SegmentIterator) Reversed() bool { return it.reversed }

func (it *SegmentIterator) numSegments() int {
	if it.top {
		return it.genome.NumTopSegments()
	}
	return it.genome.NumBottomSegments()
}

// AtEnd holds once the iterator has stepped past the last segment in its
// natural (orientation-respecting) direction: index == numSegments when
// walking forward, index == NullIndex when walking in reverse.
func (it *SegmentIterator) AtEnd() bool {
	if it.reversed {
		return !it.index.Valid()
	}
	return int(it.index) >= it.numSegments()
}

func (it *SegmentIterator) segment() (start, length haltypes.Position, err error) {
	if it.top {
		s, err := it.genome.TopSegment(it.index)
		if err != nil {
			return 0, 0, err
		}
		return s.Start, s.Length, nil
	}
	s, err := it.genome.BottomSegment(it.index)
	if err != nil {
		return 0, 0, err
	}
	return s.Start, s.Length, nil
}

// StartPosition returns the DNA start coordinate of the current segment.
func (it *SegmentIterator) StartPosition() (haltypes.Position, error) {
	start, _, err := it.segment()
	return start, err
}

// Length returns the DNA length of the current segment.
func (it *SegmentIterator) Length() (haltypes.Position, error) {
	_, length, err := it.segment()
	return length, err
}

// ToRight steps one segment in the direction of increasing reference
// coordinate on the walked strand: forward array order if the iterator is
// not reversed, backward array order if it is. sliceOffset is cleared.
func (it *SegmentIterator) ToRight() error {
	if it.AtEnd() {
		return haltypes.New(haltypes.OutOfRange, "ToRight: iterator already at end")
	}
	if it.reversed {
		it.index--
	} else {
		it.index++
	}
	it.sliceOffset = 0
	return nil
}

// ToLeft steps one segment in the opposite direction of ToRight.
func (it *SegmentIterator) ToLeft() error {
	if it.reversed {
		if int(it.index)+1 >= it.numSegments() {
			return haltypes.New(haltypes.OutOfRange, "ToLeft: iterator already at start")
		}
		it.index++
	} else {
		if it.index == 0 {
			return haltypes.New(haltypes.OutOfRange, "ToLeft: iterator already at start")
		}
		it.index--
	}
	it.sliceOffset = 0
	return nil
}

// ToSite seeks the iterator to the segment containing DNA position pos,
// setting sliceOffset to pos's offset within that segment.
func (it *SegmentIterator) ToSite(pos haltypes.Position) error {
	var idx haltypes.ArrayIndex
	var err error
	if it.top {
		idx, err = it.genome.TopSegmentAtSite(pos)
	} else {
		idx, err = it.genome.BottomSegmentAtSite(pos)
	}
	if err != nil {
		return err
	}
	start, _, err := (&SegmentIterator{genome: it.genome, top: it.top, index: idx}).segment()
	if err != nil {
		return err
	}
	it.index = idx
	it.sliceOffset = pos - start
	return nil
}

// ToParent hops from a top segment to the bottom segment of its parent it
// aligns to. Only valid on a top iterator whose current segment has a
// parent. The returned iterator's orientation is this one's XORed with the
// link's ParentReversed flag (section 4.10's orientation-composition rule).
func (it *SegmentIterator) ToParent() (*SegmentIterator, error) {
	if !it.top {
		return nil, haltypes.New(haltypes.PreconditionViolated, "ToParent: not a top iterator")
	}
	seg, err := it.genome.TopSegment(it.index)
	if err != nil {
		return nil, err
	}
	if !seg.HasParent() {
		return nil, haltypes.New(haltypes.OutOfRange, "ToParent: segment %d has no parent", it.index)
	}
	parentName, ok := it.genome.ParentName()
	if !ok {
		return nil, haltypes.New(haltypes.CorruptAlignment, "%s: top segment %d has a parent index but genome has no parent", it.genome.Name(), it.index)
	}
	parent, err := it.genome.Alignment().Genome(parentName)
	if err != nil {
		return nil, err
	}
	if err := checkTopBottomReciprocity(it.genome, it.index, parent, seg); err != nil {
		return nil, err
	}
	return NewBottomIterator(parent, seg.ParentIndex, it.reversed != seg.ParentReversed), nil
}

// ToChild hops from a bottom segment to the top segment of child childIdx
// (0-based, among this genome's children) it aligns to.
func (it *SegmentIterator) ToChild(childIdx int) (*SegmentIterator, error) {
	if it.top {
		return nil, haltypes.New(haltypes.PreconditionViolated, "ToChild: not a bottom iterator")
	}
	seg, err := it.genome.BottomSegment(it.index)
	if err != nil {
		return nil, err
	}
	if !seg.HasChild(childIdx) {
		return nil, haltypes.New(haltypes.OutOfRange, "ToChild: segment %d has no child %d", it.index, childIdx)
	}
	childName, err := it.genome.ChildName(childIdx)
	if err != nil {
		return nil, err
	}
	child, err := it.genome.Alignment().Genome(childName)
	if err != nil {
		return nil, err
	}
	childTopIdx := seg.ChildIndex[childIdx]
	childSeg, err := child.TopSegment(childTopIdx)
	if err != nil {
		return nil, err
	}
	if !childSeg.HasParent() || childSeg.ParentIndex != it.index {
		return nil, haltypes.New(haltypes.CorruptAlignment,
			"%s top segment %d does not back-link to %s bottom segment %d", childName, childTopIdx, it.genome.Name(), it.index)
	}
	return NewTopIterator(child, childTopIdx, it.reversed != seg.ChildReversed[childIdx]), nil
}

// ToParseUp hops from a top segment to the bottom segment of the same genome
// covering the same DNA position (the cross-layer parse link).
func (it *SegmentIterator) ToParseUp() (*SegmentIterator, error) {
	if !it.top {
		return nil, haltypes.New(haltypes.PreconditionViolated, "ToParseUp: not a top iterator")
	}
	seg, err := it.genome.TopSegment(it.index)
	if err != nil {
		return nil, err
	}
	if !seg.HasParse() {
		return nil, haltypes.New(haltypes.OutOfRange, "ToParseUp: segment %d has no parse link", it.index)
	}
	return NewBottomIterator(it.genome, seg.BottomParseIndex, it.reversed), nil
}

// ToParseDown hops from a bottom segment to the top segment of the same
// genome covering the same DNA position.
func (it *SegmentIterator) ToParseDown() (*SegmentIterator, error) {
	if it.top {
		return nil, haltypes.New(haltypes.PreconditionViolated, "ToParseDown: not a bottom iterator")
	}
	seg, err := it.genome.BottomSegment(it.index)
	if err != nil {
		return nil, err
	}
	if !seg.HasParse() {
		return nil, haltypes.New(haltypes.OutOfRange, "ToParseDown: segment %d has no parse link", it.index)
	}
	return NewTopIterator(it.genome, seg.TopParseIndex, it.reversed), nil
}

// ToNextParalogy steps around the paralogy cycle: the circular linked list
// of top segments of this genome that all map to the same parent region.
// Only valid on a top iterator. It fails with OutOfRange when
// NextParalogyIndex is NULL; when NextParalogyIndex is the segment itself
// the iterator stays where it is.
func (it *SegmentIterator) ToNextParalogy() error {
	if !it.top {
		return haltypes.New(haltypes.PreconditionViolated, "ToNextParalogy: not a top iterator")
	}
	seg, err := it.genome.TopSegment(it.index)
	if err != nil {
		return err
	}
	if !seg.NextParalogyIndex.Valid() {
		return haltypes.New(haltypes.OutOfRange, "ToNextParalogy: segment %d has no paralogy cycle", it.index)
	}
	it.index = seg.NextParalogyIndex
	it.sliceOffset = 0
	return nil
}

// Clone returns an independent copy of the iterator's cursor state.
func (it *SegmentIterator) Clone() *SegmentIterator {
	cp := *it
	return &cp
}

// Compare defines the total order by (arrayIndex, sliceOffset, reversed)
// described in section 4.7. It panics if a and b walk different genomes or
// different layers, which is always a caller bug.
func Compare(a, b *SegmentIterator) int {
	if a.genome != b.genome || a.top != b.top {
		panic(errors.New("alignment: Compare on incomparable iterators"))
	}
	switch {
	case a.index < b.index:
		return -1
	case a.index > b.index:
		return 1
	}
	switch {
	case a.sliceOffset < b.sliceOffset:
		return -1
	case a.sliceOffset > b.sliceOffset:
		return 1
	}
	switch {
	case !a.reversed && b.reversed:
		return -1
	case a.reversed && !b.reversed:
		return 1
	}
	return 0
}

func checkTopBottomReciprocity(child Genome, childTopIdx haltypes.ArrayIndex, parent Genome, seg TopSegment) error {
	bseg, err := parent.BottomSegment(seg.ParentIndex)
	if err != nil {
		return err
	}
	return validateBottomBackLink(child, childTopIdx, parent, bseg, seg)
}

func validateBottomBackLink(child Genome, childTopIdx haltypes.ArrayIndex, parent Genome, bseg BottomSegment, seg TopSegment) error {
	pos, ok := childPositionAmongSiblings(child, parent)
	if !ok {
		return haltypes.New(haltypes.CorruptAlignment, "%s: not a registered child of %s", child.Name(), parent.Name())
	}
	if !bseg.HasChild(pos) || bseg.ChildIndex[pos] != childTopIdx {
		return haltypes.New(haltypes.CorruptAlignment,
			"%s bottom segment %d does not back-link to %s top segment %d", parent.Name(), seg.ParentIndex, child.Name(), childTopIdx)
	}
	if bseg.ChildReversed[pos] != seg.ParentReversed {
		return haltypes.New(haltypes.CorruptAlignment,
			"%s/%s orientation mismatch at segment %d/%d", parent.Name(), child.Name(), seg.ParentIndex, childTopIdx)
	}
	return nil
}

func childPositionAmongSiblings(child Genome, parent Genome) (int, bool) {
	return parent.ChildIndexOf(child.Name())
}
