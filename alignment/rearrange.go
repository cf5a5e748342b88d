package alignment

import "github.com/halkit/hal/haltypes"

// Rearrangement classifies the structural event found at a breakpoint.
type Rearrangement int

const (
	Nothing Rearrangement = iota
	Inversion
	Insertion
	Deletion
	Duplication
	Transposition
	Translocation
	Complex
)

func (r Rearrangement) String() string {
	switch r {
	case Nothing:
		return "Nothing"
	case Inversion:
		return "Inversion"
	case Insertion:
		return "Insertion"
	case Deletion:
		return "Deletion"
	case Duplication:
		return "Duplication"
	case Transposition:
		return "Transposition"
	case Translocation:
		return "Translocation"
	case Complex:
		return "Complex"
	default:
		return "Unknown"
	}
}

// RearrangementOptions configures the detector (section 4.9).
type RearrangementOptions struct {
	// GapLengthThreshold is the gapThreshold forwarded to the gapped
	// iterators on each side of the breakpoint.
	GapLengthThreshold haltypes.Position
	// NFraction is the per-segment fraction of N bases at or above which a
	// segment is considered missing sequence rather than aligned data.
	NFraction float64
	// Atomic disables gap merging: each breakpoint is treated literally,
	// equivalent to GapLengthThreshold == 0 but without touching the
	// caller's configured threshold.
	Atomic bool
}

// DetectRearrangement classifies the event at the left breakpoint of the top
// segment at position pos in g (section 4.9). pos must be a top-segment
// array index with a predecessor (index > 0); the classifier compares the
// parent mapping of the segment at pos-1 (the left flank) against the
// segment at pos (the right flank).
func DetectRearrangement(g Genome, pos haltypes.ArrayIndex, opts RearrangementOptions) (Rearrangement, error) {
	if pos == 0 || pos >= haltypes.ArrayIndex(g.NumTopSegments()) {
		return Nothing, haltypes.New(haltypes.OutOfRange, "DetectRearrangement: position %d has no left breakpoint", pos)
	}
	threshold := opts.GapLengthThreshold
	if opts.Atomic {
		threshold = 0
	}

	// The flanks extend away from the breakpoint only; a maximal run would
	// swallow the breakpoint itself.
	leftRun := NewGappedIterator(NewTopIterator(g, pos-1, false), threshold, 0)
	for {
		ok, err := leftRun.ExtendLeft()
		if err != nil {
			return Nothing, err
		}
		if !ok {
			break
		}
	}
	rightRun := NewGappedIterator(NewTopIterator(g, pos, false), threshold, 0)
	for {
		ok, err := rightRun.ExtendRight()
		if err != nil {
			return Nothing, err
		}
		if !ok {
			break
		}
	}

	leftMissing, err := segmentIsMissing(g, leftRun.Right(), opts.NFraction)
	if err != nil {
		return Nothing, err
	}
	rightMissing, err := segmentIsMissing(g, rightRun.Left(), opts.NFraction)
	if err != nil {
		return Nothing, err
	}
	if leftMissing || rightMissing {
		return Complex, nil
	}

	leftSeg, err := g.TopSegment(leftRun.Right().Index())
	if err != nil {
		return Nothing, err
	}
	rightSeg, err := g.TopSegment(rightRun.Left().Index())
	if err != nil {
		return Nothing, err
	}

	if !leftSeg.HasParent() && !rightSeg.HasParent() {
		// Neither flank aligns; this breakpoint is interior to one
		// unaligned-in-the-parent span that the gapped run failed to
		// merge only because it exceeds the threshold.
		return Insertion, nil
	}
	if !leftSeg.HasParent() || !rightSeg.HasParent() {
		return Insertion, nil
	}

	ok, err := leftRun.Compatible(leftRun.Right(), rightRun.Left())
	if err != nil {
		return Nothing, err
	}
	if ok {
		return Nothing, nil
	}

	dup, err := isDuplicated(g, leftRun.Right())
	if err != nil {
		return Nothing, err
	}
	if !dup {
		dup, err = isDuplicated(g, rightRun.Left())
		if err != nil {
			return Nothing, err
		}
	}

	parentName, _ := g.ParentName()
	parent, err := g.Alignment().Genome(parentName)
	if err != nil {
		return Nothing, err
	}
	leftParentSeq, err := parent.SequenceBySite(mustStart(parent, leftSeg.ParentIndex))
	if err != nil {
		return Nothing, err
	}
	rightParentSeq, err := parent.SequenceBySite(mustStart(parent, rightSeg.ParentIndex))
	if err != nil {
		return Nothing, err
	}

	sameChrom := leftParentSeq.Name() == rightParentSeq.Name()
	sameOrientation := leftSeg.ParentReversed == rightSeg.ParentReversed

	switch {
	case dup:
		return Duplication, nil
	case !sameChrom:
		return Translocation, nil
	case !sameOrientation:
		return Inversion, nil
	case rightSeg.ParentIndex < leftSeg.ParentIndex:
		return Transposition, nil
	default:
		// Same chromosome, same orientation, increasing parent
		// coordinate, yet not Compatible(): the only remaining
		// explanation is a parent span too long to have been merged
		// into a Deletion-free gapped run (i.e. the gap exceeded the
		// bottom-side insertion budget governed by the detector's own
		// threshold), so the deleted parent bases make this a Deletion.
		return Deletion, nil
	}
}

func mustStart(g Genome, idx haltypes.ArrayIndex) haltypes.Position {
	seg, err := g.BottomSegment(idx)
	if err != nil {
		return 0
	}
	return seg.Start
}

func segmentIsMissing(g Genome, it *SegmentIterator, nFraction float64) (bool, error) {
	if nFraction <= 0 {
		return false, nil
	}
	start, length, err := it.segment()
	if err != nil {
		return false, err
	}
	if length == 0 {
		return false, nil
	}
	bases, err := g.DNA(start, length)
	if err != nil {
		return false, err
	}
	var nCount int
	for _, b := range bases {
		if b == haltypes.BaseN {
			nCount++
		}
	}
	return float64(nCount)/float64(length) >= nFraction, nil
}

// isDuplicated reports whether the segment at it participates in a
// paralogy cycle of length > 1, i.e. some other top segment in this genome
// maps to the same parent region.
func isDuplicated(g Genome, it *SegmentIterator) (bool, error) {
	seg, err := g.TopSegment(it.Index())
	if err != nil {
		return false, err
	}
	if !seg.NextParalogyIndex.Valid() || seg.NextParalogyIndex == it.Index() {
		return false, nil
	}
	return true, nil
}
