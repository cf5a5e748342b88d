package haltypes

// ArrayIndex is an index into a per-genome top- or bottom-segment array, or
// into a genome's children. The on-disk formats persist these as unsigned
// 64-bit values (mmap offsets double as indices for fixed-stride arrays), so
// we use the same width in memory to avoid a lossy round-trip.
type ArrayIndex uint64

// NullIndex is the sentinel for "no such segment/child/parent", matching the
// original C++ NULL_INDEX. It is never -1: the wire format is unsigned.
const NullIndex ArrayIndex = ^ArrayIndex(0)

// Valid reports whether i is not the null sentinel.
func (i ArrayIndex) Valid() bool { return i != NullIndex }

// Position is a zero-based offset into a genome's DNA array.
type Position int64

// NullPosition marks "no last position" (iterate to sequence end).
const NullPosition Position = -1

// Size is an element or byte count. Always non-negative in valid data.
type Size = int64
