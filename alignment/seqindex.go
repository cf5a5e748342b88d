// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alignment

import (
	"sort"

	"github.com/dgryski/go-farm"

	"github.com/halkit/hal/haltypes"
)

// NameIndex answers sequence-by-name lookups. It is built once at creation
// time from the full name set: a sorted array of (farmhash64(name), index)
// pairs searched by binary search, with hash collisions resolved by
// comparing the actual names through the resolve callback. Both backends
// persist the raw pair array and rebuild this view on open.
type NameIndex struct {
	hashes  []uint64
	indices []uint32
}

// BuildNameIndex hashes names (in index order) into a new index.
func BuildNameIndex(names []string) *NameIndex {
	type pair struct {
		hash uint64
		idx  uint32
	}
	pairs := make([]pair, len(names))
	for i, name := range names {
		pairs[i] = pair{hash: farm.Hash64([]byte(name)), idx: uint32(i)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].hash != pairs[j].hash {
			return pairs[i].hash < pairs[j].hash
		}
		return pairs[i].idx < pairs[j].idx
	})
	ni := &NameIndex{
		hashes:  make([]uint64, len(pairs)),
		indices: make([]uint32, len(pairs)),
	}
	for i, p := range pairs {
		ni.hashes[i] = p.hash
		ni.indices[i] = p.idx
	}
	return ni
}

// RebuildNameIndex reconstructs an index from its persisted pair arrays.
func RebuildNameIndex(hashes []uint64, indices []uint32) *NameIndex {
	return &NameIndex{hashes: hashes, indices: indices}
}

// Pairs exposes the raw arrays for persistence.
func (ni *NameIndex) Pairs() (hashes []uint64, indices []uint32) {
	return ni.hashes, ni.indices
}

// Lookup finds the sequence index for name. resolve maps a candidate index
// back to its stored name so hash collisions never yield a wrong answer.
func (ni *NameIndex) Lookup(name string, resolve func(int) string) (int, bool) {
	h := farm.Hash64([]byte(name))
	i := sort.Search(len(ni.hashes), func(i int) bool { return ni.hashes[i] >= h })
	for ; i < len(ni.hashes) && ni.hashes[i] == h; i++ {
		idx := int(ni.indices[i])
		if resolve(idx) == name {
			return idx, true
		}
	}
	return 0, false
}

// SiteMap answers sequence-by-site lookups in O(log S): a sorted array of
// sequence start positions, one per sequence in offset order.
type SiteMap struct {
	starts  []haltypes.Position
	lengths []haltypes.Position
}

// BuildSiteMap constructs a map from per-sequence (start, length) pairs in
// offset order. Sequences must be non-overlapping and cover the genome
// exactly; the caller validates coverage when creating the genome.
func BuildSiteMap(starts, lengths []haltypes.Position) *SiteMap {
	return &SiteMap{starts: starts, lengths: lengths}
}

// Lookup returns the index of the sequence covering pos.
func (sm *SiteMap) Lookup(pos haltypes.Position) (int, error) {
	i := sort.Search(len(sm.starts), func(i int) bool { return sm.starts[i] > pos })
	if i == 0 {
		return 0, haltypes.New(haltypes.OutOfRange, "site %d before first sequence", pos)
	}
	i--
	if pos >= sm.starts[i]+sm.lengths[i] {
		return 0, haltypes.New(haltypes.OutOfRange, "site %d past end of sequence %d", pos, i)
	}
	return i, nil
}

// Starts exposes the raw start array for persistence.
func (sm *SiteMap) Starts() []haltypes.Position { return sm.starts }
