// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package alignment defines the backend-agnostic capability set described in
// the design notes — Alignment, Genome, Sequence — plus every traversal
// primitive built purely in terms of those interfaces: segment iterators,
// gapped iterators, the rearrangement detector, and the column iterator.
// Neither backend package (chunkstore, mmaparena) is imported here; they
// import this package instead and implement its interfaces.
package alignment

import "github.com/halkit/hal/haltypes"

// Alignment is one open HAL file: a tree of Genomes rooted at RootName.
type Alignment interface {
	// RootName returns the name of the root genome.
	RootName() string
	// Genome looks up a genome by name.
	Genome(name string) (Genome, error)
	// GenomeNames lists every genome in the tree, parent before children.
	GenomeNames() []string
	// Metadata returns the alignment-level (not per-genome) string metadata.
	Metadata() map[string]string
	// Format reports which backend produced this handle ("hdf5-like" or
	// "mmap"), the value accepted by Options.Format.
	Format() string
	// Close flushes dirty state and releases the backend's file handles.
	Close() error
}

// Genome is one node in the tree: a name, a DNA array, a top-segment array
// (empty iff root) and a bottom-segment array (empty iff leaf).
type Genome interface {
	Name() string
	Alignment() Alignment

	SequenceLength() haltypes.Position
	NumTopSegments() int
	NumBottomSegments() int

	// NumChildren is the parent-genome's child count; it sizes every bottom
	// segment's ChildIndex/ChildReversed slices.
	NumChildren() int
	// ChildName returns the name of the i'th child in persisted order.
	ChildName(i int) (string, error)
	// ChildIndexOf returns the position of the named child among this
	// genome's children (this genome is the parent side of the call), used
	// to validate link reciprocity.
	ChildIndexOf(childName string) (int, bool)

	ParentName() (string, bool)

	Metadata() map[string]string

	// Sequence looks up a named sub-range of this genome.
	Sequence(name string) (Sequence, error)
	// SequenceBySite answers in O(log S) which Sequence covers pos.
	SequenceBySite(pos haltypes.Position) (Sequence, error)
	// SequenceNames lists sequences in on-disk (offset) order.
	SequenceNames() []string

	// TopSegment fetches one record by array index.
	TopSegment(i haltypes.ArrayIndex) (TopSegment, error)
	// BottomSegment fetches one record by array index.
	BottomSegment(i haltypes.ArrayIndex) (BottomSegment, error)

	// DNA reads [start, start+length) and returns decoded bases.
	DNA(start, length haltypes.Position) ([]haltypes.Base, error)

	// ContainsDNAArray reports whether this genome carries a DNA array at
	// all. Coarse LOD files store segments without DNA; the LOD manager's
	// needDNA fallback keys off this.
	ContainsDNAArray() bool

	// TopSegmentAtSite returns the index of the top segment covering pos.
	TopSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error)
	// BottomSegmentAtSite returns the index of the bottom segment covering pos.
	BottomSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error)
}

// Sequence is a named, contiguous sub-range of a Genome.
type Sequence interface {
	Name() string
	Genome() Genome
	StartPosition() haltypes.Position
	Length() haltypes.Position
	FirstTopSegment() haltypes.ArrayIndex
	NumTopSegments() int
	FirstBottomSegment() haltypes.ArrayIndex
	NumBottomSegments() int
}

// TopSegment mirrors section 3's definition: a child range that aligns up to
// a region of its parent.
type TopSegment struct {
	Start             haltypes.Position
	Length            haltypes.Position
	ParentIndex       haltypes.ArrayIndex // in the parent's bottom array
	ParentReversed    bool
	BottomParseIndex  haltypes.ArrayIndex // in this genome's bottom array
	NextParalogyIndex haltypes.ArrayIndex // in this genome's top array
}

// HasParent reports whether this top segment aligns to a parent region.
func (s TopSegment) HasParent() bool { return s.ParentIndex.Valid() }

// HasParse reports whether a cross-layer parse link exists.
func (s TopSegment) HasParse() bool { return s.BottomParseIndex.Valid() }

// BottomSegment mirrors section 3's definition: a parent range that aligns
// down to one region in each of its children (when set).
type BottomSegment struct {
	Start         haltypes.Position
	Length        haltypes.Position
	TopParseIndex haltypes.ArrayIndex // in this genome's top array
	ChildIndex    []haltypes.ArrayIndex
	ChildReversed []bool
}

// HasChild reports whether child c (0-based, among this genome's children)
// has an aligned region in this bottom segment.
func (s BottomSegment) HasChild(c int) bool {
	return c >= 0 && c < len(s.ChildIndex) && s.ChildIndex[c].Valid()
}

// HasParse reports whether a cross-layer parse link exists.
func (s BottomSegment) HasParse() bool { return s.TopParseIndex.Valid() }
