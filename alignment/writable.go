// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alignment

import "github.com/halkit/hal/haltypes"

// SequenceInfo declares one sequence's dimensions at genome-creation time:
// its name, DNA length, and how many top and bottom segments it holds.
type SequenceInfo struct {
	Name      string
	Length    haltypes.Position
	NumTop    int
	NumBottom int
}

// WritableAlignment is the creation-side capability set. Genomes are created
// by declaring dimensions, then filled by writing DNA and segment records;
// read-only consumers never see this interface.
type WritableAlignment interface {
	Alignment

	// AddRootGenome creates the root. It fails with PreconditionViolated if
	// a root already exists.
	AddRootGenome(name string) (WritableGenome, error)
	// AddLeafGenome creates a genome as the next (ordered) child of
	// parentName. Child order is assigned by call order and persisted; child
	// indices in the parent's bottom segments refer to it.
	AddLeafGenome(name, parentName string) (WritableGenome, error)

	// SetMetadata stores an alignment-level key/value pair.
	SetMetadata(key, value string) error
}

// WritableGenome extends Genome with the mutation surface used during
// creation. At most one writer per alignment may be in flight; the caller
// enforces this (section 5).
type WritableGenome interface {
	Genome

	// SetDimensions declares the genome's sequences and reserves its DNA and
	// segment arrays. storeDNA false skips the DNA array entirely, the shape
	// coarse level-of-detail files take. Calling it again replaces the
	// arrays (the previous ones are unlinked or become dead space, depending
	// on the backend).
	SetDimensions(seqs []SequenceInfo, storeDNA bool) error

	// DNAAccess opens a byte-oriented window over the DNA array. The caller
	// must Flush (or Close) it before reading the written range back.
	DNAAccess() (DNAAccess, error)

	// SetString writes an ASCII DNA string starting at start, a convenience
	// wrapper over DNAAccess for callers filling whole sequences.
	SetString(start haltypes.Position, dna string) error

	// SetTopSegment stores one top-segment record by array index.
	SetTopSegment(i haltypes.ArrayIndex, seg TopSegment) error
	// SetBottomSegment stores one bottom-segment record by array index. The
	// record's ChildIndex/ChildReversed slices must have exactly
	// NumChildren() entries.
	SetBottomSegment(i haltypes.ArrayIndex, seg BottomSegment) error

	// SetGenomeMetadata stores a per-genome key/value pair.
	SetGenomeMetadata(key, value string) error
}

// DNAAccess is the byte-oriented mutation window over a genome's DNA array
// (section 4.6): one implementation per backend. Writes may be buffered;
// Flush makes them visible to Genome.DNA and is implied by Close.
type DNAAccess interface {
	// Write stores bases starting at DNA position start.
	Write(start haltypes.Position, bases []haltypes.Base) error
	// WriteString encodes and stores an ASCII DNA string.
	WriteString(start haltypes.Position, dna string) error
	// Flush pushes buffered writes down to the backing array.
	Flush() error
	// Close flushes and releases the window.
	Close() error
}
