// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mmaparena

import (
	"encoding/binary"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// Genome header record: fixed u64 fields at these byte offsets from the
// header's arena offset. Every reference to variable-size data (name,
// sequence table, segment arrays, DNA, metadata, lookup tables) is an arena
// offset; swinging one of these fields is how a record "update" works.
const (
	ghName        = 0
	ghNameLen     = 8
	ghParent      = 16 // parent header offset; 0 at the root
	ghChildren    = 24 // array of child header offsets
	ghNumChildren = 32
	ghTotalLen    = 40
	ghNumSeqs     = 48
	ghSeqs        = 56 // sequence-data table
	ghNumTop      = 64
	ghTop         = 72 // top-segment array
	ghNumBottom   = 80
	ghBottom      = 88 // bottom-segment array
	ghDNA         = 96 // DNA nibble array; 0 when the genome stores no DNA
	ghMeta        = 104
	ghSeqHash     = 112 // name perfect-hash table: (hash u64, index u64) pairs
	ghSiteMap     = 120 // sorted sequence start positions
	ghDNAHash     = 128 // seahash of the packed DNA bytes, stamped on close

	genomeHeaderSize = 136
)

// Sequence-data record, 64 bytes per sequence.
const (
	sqStart       = 0
	sqLen         = 8
	sqTopStart    = 16
	sqNumTop      = 24
	sqBottomStart = 32
	sqNumBottom   = 40
	sqName        = 48
	sqNameLen     = 56

	seqRecordSize = 64
)

// Genome is the mmap backend's genome handle: a header offset plus decoded
// caches (names, cumulative offsets, lookup tables). Byte slices into the
// mapping are never cached; every access re-resolves through the arena so
// remaps during creation cannot leave the handle dangling.
type Genome struct {
	a         *Alignment
	name      string
	headerOff int64

	dimensionsSet bool
	seqNames      []string
	starts        []haltypes.Position
	lengths       []haltypes.Position
	topStarts     []int64
	bottomStarts  []int64
	numTopPerSeq  []int
	numBotPerSeq  []int
	total         haltypes.Position
	numTop        int64
	numBottom     int64

	nameIndex *alignment.NameIndex
	siteMap   *alignment.SiteMap

	meta map[string]string
}

var (
	_ alignment.Genome         = (*Genome)(nil)
	_ alignment.WritableGenome = (*Genome)(nil)
)

func (g *Genome) field(field int64) uint64 {
	v, err := g.a.arena.U64(g.headerOff + field)
	if err != nil {
		// The header was bounds-checked when the handle was built; a failure
		// here means the arena shrank, which never happens.
		panic(err)
	}
	return v
}

func (g *Genome) setField(field int64, v uint64) error {
	return g.a.arena.PutU64(g.headerOff+field, v)
}

// loadGenome builds a handle over an existing header record and decodes its
// caches.
func loadGenome(a *Alignment, headerOff int64) (*Genome, error) {
	if _, err := a.arena.Bytes(headerOff, genomeHeaderSize); err != nil {
		return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome header at %d", headerOff)
	}
	g := &Genome{a: a, headerOff: headerOff, meta: make(map[string]string)}
	name, err := a.arena.String(int64(g.field(ghName)), int64(g.field(ghNameLen)))
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome name at %d", headerOff)
	}
	g.name = name
	if metaOff := int64(g.field(ghMeta)); metaOff != 0 {
		blob, err := a.readBlob(metaOff)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s: metadata", name)
		}
		if g.meta, err = alignment.DecodeStringMap(blob); err != nil {
			return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s: metadata", name)
		}
	}
	if g.field(ghSeqs) != 0 || g.field(ghNumSeqs) == 0 {
		if err := g.decodeSequences(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Genome) decodeSequences() error {
	n := int(g.field(ghNumSeqs))
	seqsOff := int64(g.field(ghSeqs))
	g.seqNames = make([]string, n)
	g.starts = make([]haltypes.Position, n)
	g.lengths = make([]haltypes.Position, n)
	g.topStarts = make([]int64, n)
	g.bottomStarts = make([]int64, n)
	g.numTopPerSeq = make([]int, n)
	g.numBotPerSeq = make([]int, n)
	for i := 0; i < n; i++ {
		rec, err := g.a.arena.Bytes(seqsOff+int64(i)*seqRecordSize, seqRecordSize)
		if err != nil {
			return haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s: sequence record %d", g.name, i)
		}
		le := binary.LittleEndian
		g.starts[i] = haltypes.Position(le.Uint64(rec[sqStart:]))
		g.lengths[i] = haltypes.Position(le.Uint64(rec[sqLen:]))
		g.topStarts[i] = int64(le.Uint64(rec[sqTopStart:]))
		g.numTopPerSeq[i] = int(le.Uint64(rec[sqNumTop:]))
		g.bottomStarts[i] = int64(le.Uint64(rec[sqBottomStart:]))
		g.numBotPerSeq[i] = int(le.Uint64(rec[sqNumBottom:]))
		nameOff, nameLen := int64(le.Uint64(rec[sqName:])), int64(le.Uint64(rec[sqNameLen:]))
		if g.seqNames[i], err = g.a.arena.String(nameOff, nameLen); err != nil {
			return haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s: sequence %d name", g.name, i)
		}
	}
	g.total = haltypes.Position(g.field(ghTotalLen))
	g.numTop = int64(g.field(ghNumTop))
	g.numBottom = int64(g.field(ghNumBottom))

	// Rebuild the persisted lookup tables.
	hashOff := int64(g.field(ghSeqHash))
	hashes := make([]uint64, n)
	indices := make([]uint32, n)
	for i := 0; i < n; i++ {
		pair, err := g.a.arena.Bytes(hashOff+int64(i)*16, 16)
		if err != nil {
			return haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s: name-hash pair %d", g.name, i)
		}
		hashes[i] = binary.LittleEndian.Uint64(pair)
		indices[i] = uint32(binary.LittleEndian.Uint64(pair[8:]))
	}
	g.nameIndex = alignment.RebuildNameIndex(hashes, indices)
	g.siteMap = alignment.BuildSiteMap(g.starts, g.lengths)
	g.dimensionsSet = true
	return nil
}

// SetDimensions allocates the genome's sequence table, segment arrays, DNA
// nibble array, and lookup tables. A repeated call allocates fresh arrays
// and swings the header offsets; the old records become dead space (no
// in-place shrink, ever).
func (g *Genome) SetDimensions(seqs []alignment.SequenceInfo, storeDNA bool) error {
	arena := g.a.arena
	if !arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	n := len(seqs)
	g.seqNames = make([]string, n)
	g.starts = make([]haltypes.Position, n)
	g.lengths = make([]haltypes.Position, n)
	g.topStarts = make([]int64, n)
	g.bottomStarts = make([]int64, n)
	g.numTopPerSeq = make([]int, n)
	g.numBotPerSeq = make([]int, n)
	g.total, g.numTop, g.numBottom = 0, 0, 0
	for i, s := range seqs {
		g.seqNames[i] = s.Name
		g.starts[i] = g.total
		g.lengths[i] = s.Length
		g.topStarts[i] = g.numTop
		g.bottomStarts[i] = g.numBottom
		g.numTopPerSeq[i] = s.NumTop
		g.numBotPerSeq[i] = s.NumBottom
		g.total += s.Length
		g.numTop += int64(s.NumTop)
		g.numBottom += int64(s.NumBottom)
	}

	seqsOff, err := arena.AllocateNewArray(int64(n) * seqRecordSize)
	if err != nil {
		return err
	}
	for i, s := range seqs {
		nameOff, err := arena.AllocateString(s.Name)
		if err != nil {
			return err
		}
		rec, err := arena.Bytes(seqsOff+int64(i)*seqRecordSize, seqRecordSize)
		if err != nil {
			return err
		}
		le := binary.LittleEndian
		le.PutUint64(rec[sqStart:], uint64(g.starts[i]))
		le.PutUint64(rec[sqLen:], uint64(s.Length))
		le.PutUint64(rec[sqTopStart:], uint64(g.topStarts[i]))
		le.PutUint64(rec[sqNumTop:], uint64(s.NumTop))
		le.PutUint64(rec[sqBottomStart:], uint64(g.bottomStarts[i]))
		le.PutUint64(rec[sqNumBottom:], uint64(s.NumBottom))
		le.PutUint64(rec[sqName:], uint64(nameOff))
		le.PutUint64(rec[sqNameLen:], uint64(len(s.Name)))
	}

	topOff, err := arena.AllocateNewArray(g.numTop * alignment.TopSegmentStride)
	if err != nil {
		return err
	}
	stride := int64(alignment.BottomSegmentStride(g.NumChildren()))
	bottomOff, err := arena.AllocateNewArray(g.numBottom * stride)
	if err != nil {
		return err
	}
	var dnaOff int64
	if storeDNA && g.total > 0 {
		if dnaOff, err = arena.AllocateNewArray((int64(g.total) + 1) / 2); err != nil {
			return err
		}
	}

	// Persist the name perfect-hash pairs and the site map.
	g.nameIndex = alignment.BuildNameIndex(g.seqNames)
	hashes, indices := g.nameIndex.Pairs()
	hashOff, err := arena.AllocateNewArray(int64(n) * 16)
	if err != nil {
		return err
	}
	for i := range hashes {
		pair, err := arena.Bytes(hashOff+int64(i)*16, 16)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(pair, hashes[i])
		binary.LittleEndian.PutUint64(pair[8:], uint64(indices[i]))
	}
	siteOff, err := arena.AllocateNewArray(int64(n) * 8)
	if err != nil {
		return err
	}
	for i, start := range g.starts {
		if err := arena.PutU64(siteOff+int64(i)*8, uint64(start)); err != nil {
			return err
		}
	}
	g.siteMap = alignment.BuildSiteMap(g.starts, g.lengths)

	for field, v := range map[int64]uint64{
		ghTotalLen:  uint64(g.total),
		ghNumSeqs:   uint64(n),
		ghSeqs:      uint64(seqsOff),
		ghNumTop:    uint64(g.numTop),
		ghTop:       uint64(topOff),
		ghNumBottom: uint64(g.numBottom),
		ghBottom:    uint64(bottomOff),
		ghDNA:       uint64(dnaOff),
		ghSeqHash:   uint64(hashOff),
		ghSiteMap:   uint64(siteOff),
	} {
		if err := g.setField(field, v); err != nil {
			return err
		}
	}
	g.dimensionsSet = true
	return nil
}

// Name returns the genome's name.
func (g *Genome) Name() string { return g.name }

// Alignment returns the owning alignment handle.
func (g *Genome) Alignment() alignment.Alignment { return g.a }

// SequenceLength returns the total DNA length.
func (g *Genome) SequenceLength() haltypes.Position { return g.total }

// NumTopSegments returns the top-segment count.
func (g *Genome) NumTopSegments() int { return int(g.numTop) }

// NumBottomSegments returns the bottom-segment count.
func (g *Genome) NumBottomSegments() int { return int(g.numBottom) }

// NumChildren returns the child count recorded in the header.
func (g *Genome) NumChildren() int { return int(g.field(ghNumChildren)) }

// ChildName returns the i'th child in persisted order.
func (g *Genome) ChildName(i int) (string, error) {
	if i < 0 || i >= g.NumChildren() {
		return "", haltypes.New(haltypes.OutOfRange, "genome %s: no child %d", g.name, i)
	}
	childOff, err := g.a.arena.U64(int64(g.field(ghChildren)) + int64(i)*8)
	if err != nil {
		return "", err
	}
	return g.a.nameAt(int64(childOff))
}

// ChildIndexOf returns the position of childName among this genome's
// children.
func (g *Genome) ChildIndexOf(childName string) (int, bool) {
	for i := 0; i < g.NumChildren(); i++ {
		name, err := g.ChildName(i)
		if err == nil && name == childName {
			return i, true
		}
	}
	return 0, false
}

// ParentName returns this genome's parent, or false at the root.
func (g *Genome) ParentName() (string, bool) {
	parentOff := int64(g.field(ghParent))
	if parentOff == 0 {
		return "", false
	}
	name, err := g.a.nameAt(parentOff)
	if err != nil {
		return "", false
	}
	return name, true
}

// Metadata returns the per-genome metadata map.
func (g *Genome) Metadata() map[string]string { return g.meta }

// SetGenomeMetadata stores a per-genome key/value pair. The table is
// serialized on Close.
func (g *Genome) SetGenomeMetadata(key, value string) error {
	if !g.a.arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	g.meta[key] = value
	return nil
}

// ContainsDNAArray reports whether this genome stores DNA.
func (g *Genome) ContainsDNAArray() bool { return g.field(ghDNA) != 0 }

// SequenceNames lists sequences in offset order.
func (g *Genome) SequenceNames() []string {
	return append([]string(nil), g.seqNames...)
}

// Sequence looks up a sequence by name through the persisted hash table.
func (g *Genome) Sequence(name string) (alignment.Sequence, error) {
	if g.nameIndex == nil {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no sequences", g.name)
	}
	idx, ok := g.nameIndex.Lookup(name, func(i int) string { return g.seqNames[i] })
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no sequence %q", g.name, name)
	}
	return &sequenceHandle{g: g, idx: idx}, nil
}

// SequenceBySite answers which sequence covers pos in O(log S) through the
// site map built from the sequence records at load time.
func (g *Genome) SequenceBySite(pos haltypes.Position) (alignment.Sequence, error) {
	if g.siteMap == nil {
		return nil, haltypes.New(haltypes.OutOfRange, "genome %s: no sequences", g.name)
	}
	idx, err := g.siteMap.Lookup(pos)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.OutOfRange, "genome %s", g.name)
	}
	return &sequenceHandle{g: g, idx: idx}, nil
}

func (g *Genome) topRecord(i haltypes.ArrayIndex) ([]byte, error) {
	if int64(i) >= g.numTop {
		return nil, haltypes.New(haltypes.OutOfRange, "genome %s: top segment %d out of [0,%d)", g.name, i, g.numTop)
	}
	return g.a.arena.Bytes(int64(g.field(ghTop))+int64(i)*alignment.TopSegmentStride, alignment.TopSegmentStride)
}

func (g *Genome) bottomRecord(i haltypes.ArrayIndex) ([]byte, error) {
	stride := int64(alignment.BottomSegmentStride(g.NumChildren()))
	if int64(i) >= g.numBottom {
		return nil, haltypes.New(haltypes.OutOfRange, "genome %s: bottom segment %d out of [0,%d)", g.name, i, g.numBottom)
	}
	return g.a.arena.Bytes(int64(g.field(ghBottom))+int64(i)*stride, stride)
}

// TopSegment fetches one top-segment record.
func (g *Genome) TopSegment(i haltypes.ArrayIndex) (alignment.TopSegment, error) {
	rec, err := g.topRecord(i)
	if err != nil {
		return alignment.TopSegment{}, err
	}
	return alignment.DecodeTopSegment(rec), nil
}

// BottomSegment fetches one bottom-segment record.
func (g *Genome) BottomSegment(i haltypes.ArrayIndex) (alignment.BottomSegment, error) {
	rec, err := g.bottomRecord(i)
	if err != nil {
		return alignment.BottomSegment{}, err
	}
	return alignment.DecodeBottomSegment(rec, g.NumChildren()), nil
}

// SetTopSegment stores one top-segment record.
func (g *Genome) SetTopSegment(i haltypes.ArrayIndex, seg alignment.TopSegment) error {
	if !g.a.arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	rec, err := g.topRecord(i)
	if err != nil {
		return err
	}
	alignment.EncodeTopSegment(rec, seg)
	return nil
}

// SetBottomSegment stores one bottom-segment record.
func (g *Genome) SetBottomSegment(i haltypes.ArrayIndex, seg alignment.BottomSegment) error {
	if !g.a.arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	if len(seg.ChildIndex) != g.NumChildren() || len(seg.ChildReversed) != g.NumChildren() {
		return haltypes.New(haltypes.PreconditionViolated,
			"genome %s: bottom segment %d has %d child slots, genome has %d children",
			g.name, i, len(seg.ChildIndex), g.NumChildren())
	}
	rec, err := g.bottomRecord(i)
	if err != nil {
		return err
	}
	alignment.EncodeBottomSegment(rec, seg)
	return nil
}

// TopSegmentAtSite binary-searches the top array for the segment covering
// pos.
func (g *Genome) TopSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return g.segmentAtSite(pos, true)
}

// BottomSegmentAtSite is TopSegmentAtSite over the bottom array.
func (g *Genome) BottomSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return g.segmentAtSite(pos, false)
}

func (g *Genome) segmentAtSite(pos haltypes.Position, top bool) (haltypes.ArrayIndex, error) {
	layer, n := "bottom", g.numBottom
	read := g.bottomRecord
	if top {
		layer, n, read = "top", g.numTop, g.topRecord
	}
	if pos < 0 || pos >= g.total {
		return 0, haltypes.New(haltypes.OutOfRange, "genome %s: site %d out of [0,%d)", g.name, pos, g.total)
	}
	if n == 0 {
		return 0, haltypes.New(haltypes.OutOfRange, "genome %s: no %s segments", g.name, layer)
	}
	lo, hi := int64(0), n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		rec, err := read(haltypes.ArrayIndex(mid))
		if err != nil {
			return 0, err
		}
		if haltypes.Position(binary.LittleEndian.Uint64(rec)) <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	rec, err := read(haltypes.ArrayIndex(lo))
	if err != nil {
		return 0, err
	}
	start := haltypes.Position(binary.LittleEndian.Uint64(rec))
	length := haltypes.Position(binary.LittleEndian.Uint64(rec[8:]))
	if pos < start || pos >= start+length {
		return 0, haltypes.New(haltypes.CorruptAlignment,
			"genome %s: %s segment %d [%d,%d) does not cover site %d", g.name, layer, lo, start, start+length, pos)
	}
	return haltypes.ArrayIndex(lo), nil
}

// Rename changes the genome's name. When the new name fits in the existing
// name record it is replaced in place; otherwise a fresh record is
// allocated and the header's name offset swings to it.
func (g *Genome) Rename(newName string) error {
	arena := g.a.arena
	if !arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	if newName == "" {
		return haltypes.New(haltypes.PreconditionViolated, "genome %s: empty new name", g.name)
	}
	oldLen := int64(g.field(ghNameLen))
	if int64(len(newName)) <= oldLen {
		b, err := arena.Bytes(int64(g.field(ghName)), oldLen)
		if err != nil {
			return err
		}
		copy(b, newName)
	} else {
		off, err := arena.AllocateString(newName)
		if err != nil {
			return err
		}
		if err := g.setField(ghName, uint64(off)); err != nil {
			return err
		}
	}
	if err := g.setField(ghNameLen, uint64(len(newName))); err != nil {
		return err
	}
	g.a.rename(g.name, newName)
	g.name = newName
	return nil
}

// sequenceHandle is a view into the genome's decoded sequence table.
type sequenceHandle struct {
	g   *Genome
	idx int
}

var _ alignment.Sequence = (*sequenceHandle)(nil)

func (s *sequenceHandle) Name() string { return s.g.seqNames[s.idx] }

func (s *sequenceHandle) Genome() alignment.Genome { return s.g }

func (s *sequenceHandle) StartPosition() haltypes.Position { return s.g.starts[s.idx] }

func (s *sequenceHandle) Length() haltypes.Position { return s.g.lengths[s.idx] }

func (s *sequenceHandle) NumTopSegments() int { return s.g.numTopPerSeq[s.idx] }

func (s *sequenceHandle) NumBottomSegments() int { return s.g.numBotPerSeq[s.idx] }

func (s *sequenceHandle) FirstTopSegment() haltypes.ArrayIndex {
	if s.g.numTopPerSeq[s.idx] == 0 {
		return haltypes.NullIndex
	}
	return haltypes.ArrayIndex(s.g.topStarts[s.idx])
}

func (s *sequenceHandle) FirstBottomSegment() haltypes.ArrayIndex {
	if s.g.numBotPerSeq[s.idx] == 0 {
		return haltypes.NullIndex
	}
	return haltypes.ArrayIndex(s.g.bottomStarts[s.idx])
}
