// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alignment

import (
	"encoding/binary"

	"github.com/halkit/hal/haltypes"
)

// Both backends persist segment records with the same fixed-width
// little-endian field layout; only the surrounding container differs
// (compressed chunks vs. the mmap arena). Keeping the codec here means a
// record written by one backend and read back by the other decodes
// identically, which the backend-equivalence tests rely on.

// TopSegmentStride is the on-disk size of one top-segment record:
// start, length, parentIndex, bottomParseIndex, nextParalogyIndex (u64 each)
// plus one flag byte for parentReversed.
const TopSegmentStride = 5*8 + 1

// BottomSegmentStride returns the on-disk size of one bottom-segment record
// for a genome with numChildren children: start, length, topParseIndex (u64
// each) plus one (childIndex u64, childReversed u8) slot per child.
func BottomSegmentStride(numChildren int) int {
	return 3*8 + numChildren*9
}

// EncodeTopSegment serializes seg into buf, which must hold at least
// TopSegmentStride bytes.
func EncodeTopSegment(buf []byte, seg TopSegment) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], uint64(seg.Start))
	le.PutUint64(buf[8:], uint64(seg.Length))
	le.PutUint64(buf[16:], uint64(seg.ParentIndex))
	le.PutUint64(buf[24:], uint64(seg.BottomParseIndex))
	le.PutUint64(buf[32:], uint64(seg.NextParalogyIndex))
	buf[40] = boolByte(seg.ParentReversed)
}

// DecodeTopSegment deserializes one record from buf.
func DecodeTopSegment(buf []byte) TopSegment {
	le := binary.LittleEndian
	return TopSegment{
		Start:             haltypes.Position(le.Uint64(buf[0:])),
		Length:            haltypes.Position(le.Uint64(buf[8:])),
		ParentIndex:       haltypes.ArrayIndex(le.Uint64(buf[16:])),
		BottomParseIndex:  haltypes.ArrayIndex(le.Uint64(buf[24:])),
		NextParalogyIndex: haltypes.ArrayIndex(le.Uint64(buf[32:])),
		ParentReversed:    buf[40] != 0,
	}
}

// EncodeBottomSegment serializes seg into buf, which must hold at least
// BottomSegmentStride(len(seg.ChildIndex)) bytes.
func EncodeBottomSegment(buf []byte, seg BottomSegment) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], uint64(seg.Start))
	le.PutUint64(buf[8:], uint64(seg.Length))
	le.PutUint64(buf[16:], uint64(seg.TopParseIndex))
	off := 24
	for c := range seg.ChildIndex {
		le.PutUint64(buf[off:], uint64(seg.ChildIndex[c]))
		buf[off+8] = boolByte(seg.ChildReversed[c])
		off += 9
	}
}

// DecodeBottomSegment deserializes one record with numChildren child slots.
func DecodeBottomSegment(buf []byte, numChildren int) BottomSegment {
	le := binary.LittleEndian
	seg := BottomSegment{
		Start:         haltypes.Position(le.Uint64(buf[0:])),
		Length:        haltypes.Position(le.Uint64(buf[8:])),
		TopParseIndex: haltypes.ArrayIndex(le.Uint64(buf[16:])),
		ChildIndex:    make([]haltypes.ArrayIndex, numChildren),
		ChildReversed: make([]bool, numChildren),
	}
	off := 24
	for c := 0; c < numChildren; c++ {
		seg.ChildIndex[c] = haltypes.ArrayIndex(le.Uint64(buf[off:]))
		seg.ChildReversed[c] = buf[off+8] != 0
		off += 9
	}
	return seg
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
