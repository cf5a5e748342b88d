// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package chunkstore

import (
	"encoding/binary"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// Genome is the chunked backend's genome: three datasets under the genome's
// group (DNA_ARRAY, TOP_ARRAY, BOTTOM_ARRAY) plus a sequence table and a
// metadata table, all loaded lazily through the container.
type Genome struct {
	a    *Alignment
	name string

	dimensionsSet bool
	seqs          []alignment.SequenceInfo
	starts        []haltypes.Position // cumulative DNA start per sequence
	topStarts     []int64             // cumulative top-segment start per sequence
	bottomStarts  []int64
	total         haltypes.Position
	numTop        int64
	numBottom     int64

	dna    *Array // nil when the genome stores no DNA
	top    *Array
	bottom *Array

	nameIndex *alignment.NameIndex
	siteMap   *alignment.SiteMap

	meta map[string]string
}

var (
	_ alignment.Genome         = (*Genome)(nil)
	_ alignment.WritableGenome = (*Genome)(nil)
)

func newGenome(a *Alignment, name string) *Genome {
	return &Genome{a: a, name: name, meta: make(map[string]string)}
}

func loadGenome(a *Alignment, name string) (*Genome, error) {
	g := newGenome(a, name)
	seqBlob, err := a.c.GetBlob(genomeDataset(name, sequencesName))
	if err != nil {
		return nil, err
	}
	seqs, err := alignment.DecodeSequenceTable(seqBlob)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s", name)
	}
	metaBlob, err := a.c.GetBlob(genomeDataset(name, metaName))
	if err != nil {
		return nil, err
	}
	if g.meta, err = alignment.DecodeStringMap(metaBlob); err != nil {
		return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "genome %s", name)
	}
	g.applyDimensions(seqs)
	if g.top, err = Load(a.c, genomeDataset(name, topArrayName), a.props); err != nil {
		return nil, err
	}
	if g.bottom, err = Load(a.c, genomeDataset(name, bottomArrayName), a.props); err != nil {
		return nil, err
	}
	if a.c.HasDataset(genomeDataset(name, dnaArrayName)) {
		if g.dna, err = Load(a.c, genomeDataset(name, dnaArrayName), a.props); err != nil {
			return nil, err
		}
	}
	if g.top.Size() != g.numTop || g.bottom.Size() != g.numBottom {
		return nil, haltypes.New(haltypes.CorruptAlignment,
			"genome %s: segment arrays (%d top, %d bottom) disagree with sequence table (%d, %d)",
			name, g.top.Size(), g.bottom.Size(), g.numTop, g.numBottom)
	}
	return g, nil
}

// applyDimensions derives the cumulative offsets, the name index, and the
// site map from a sequence table.
func (g *Genome) applyDimensions(seqs []alignment.SequenceInfo) {
	g.seqs = seqs
	g.starts = make([]haltypes.Position, len(seqs))
	g.topStarts = make([]int64, len(seqs))
	g.bottomStarts = make([]int64, len(seqs))
	g.total, g.numTop, g.numBottom = 0, 0, 0
	names := make([]string, len(seqs))
	lengths := make([]haltypes.Position, len(seqs))
	for i, s := range seqs {
		g.starts[i] = g.total
		g.topStarts[i] = g.numTop
		g.bottomStarts[i] = g.numBottom
		g.total += s.Length
		g.numTop += int64(s.NumTop)
		g.numBottom += int64(s.NumBottom)
		names[i] = s.Name
		lengths[i] = s.Length
	}
	g.nameIndex = alignment.BuildNameIndex(names)
	g.siteMap = alignment.BuildSiteMap(g.starts, lengths)
	g.dimensionsSet = true
}

// SetDimensions declares the genome's sequences and reserves its arrays,
// unlinking any arrays from an earlier call.
func (g *Genome) SetDimensions(seqs []alignment.SequenceInfo, storeDNA bool) error {
	if !g.a.writable {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	// Each reset unlinks the array being replaced, and only that array.
	g.a.c.unlinkDataset(genomeDataset(g.name, dnaArrayName))
	g.a.c.unlinkDataset(genomeDataset(g.name, topArrayName))
	g.a.c.unlinkDataset(genomeDataset(g.name, bottomArrayName))

	g.applyDimensions(seqs)
	var err error
	if storeDNA && g.total > 0 {
		g.dna, err = Create(g.a.c, genomeDataset(g.name, dnaArrayName), 1, int64(g.total), g.a.props)
		if err != nil {
			return err
		}
	} else {
		g.dna = nil
	}
	g.top, err = Create(g.a.c, genomeDataset(g.name, topArrayName), alignment.TopSegmentStride, g.numTop, g.a.props)
	if err != nil {
		return err
	}
	stride := alignment.BottomSegmentStride(g.NumChildren())
	g.bottom, err = Create(g.a.c, genomeDataset(g.name, bottomArrayName), stride, g.numBottom, g.a.props)
	return err
}

func (g *Genome) flush() error {
	if !g.dimensionsSet {
		// An empty genome (zero sequences, zero segments) still persists
		// its table and arrays so it opens cleanly.
		if err := g.SetDimensions(nil, false); err != nil {
			return err
		}
	}
	if g.dna != nil {
		if err := g.dna.Write(); err != nil {
			return err
		}
	}
	if err := g.top.Write(); err != nil {
		return err
	}
	if err := g.bottom.Write(); err != nil {
		return err
	}
	if err := g.a.c.PutBlob(genomeDataset(g.name, sequencesName), alignment.EncodeSequenceTable(g.seqs)); err != nil {
		return err
	}
	return g.a.c.PutBlob(genomeDataset(g.name, metaName), alignment.EncodeStringMap(g.meta))
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

// NumChildren returns the child count, which sizes bottom-segment records.
func (g *Genome) NumChildren() int { return len(g.a.children[g.name]) }

// ChildName returns the i'th child in persisted order.
func (g *Genome) ChildName(i int) (string, error) {
	kids := g.a.children[g.name]
	if i < 0 || i >= len(kids) {
		return "", haltypes.New(haltypes.OutOfRange, "genome %s: no child %d", g.name, i)
	}
	return kids[i], nil
}

// ChildIndexOf returns the position of childName among this genome's
// children.
func (g *Genome) ChildIndexOf(childName string) (int, bool) {
	for i, n := range g.a.children[g.name] {
		if n == childName {
			return i, true
		}
	}
	return 0, false
}

// ParentName returns this genome's parent, or false at the root.
func (g *Genome) ParentName() (string, bool) {
	p, ok := g.a.parents[g.name]
	return p, ok
}

// Metadata returns the per-genome metadata map.
func (g *Genome) Metadata() map[string]string { return g.meta }

// SetGenomeMetadata stores a per-genome key/value pair.
func (g *Genome) SetGenomeMetadata(key, value string) error {
	if !g.a.writable {
		return haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	g.meta[key] = value
	return nil
}

// ContainsDNAArray reports whether this genome stores DNA.
func (g *Genome) ContainsDNAArray() bool { return g.dna != nil && g.dna.Size() > 0 }

// SequenceNames lists sequences in offset order.
func (g *Genome) SequenceNames() []string {
	names := make([]string, len(g.seqs))
	for i, s := range g.seqs {
		names[i] = s.Name
	}
	return names
}

// Sequence looks up a sequence by name through the name index.
func (g *Genome) Sequence(name string) (alignment.Sequence, error) {
	idx, ok := g.nameIndex.Lookup(name, func(i int) string { return g.seqs[i].Name })
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no sequence %q", g.name, name)
	}
	return &sequenceHandle{g: g, idx: idx}, nil
}

// SequenceBySite answers which sequence covers pos in O(log S).
func (g *Genome) SequenceBySite(pos haltypes.Position) (alignment.Sequence, error) {
	idx, err := g.siteMap.Lookup(pos)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.OutOfRange, "genome %s", g.name)
	}
	return &sequenceHandle{g: g, idx: idx}, nil
}

// TopSegment fetches one top-segment record.
func (g *Genome) TopSegment(i haltypes.ArrayIndex) (alignment.TopSegment, error) {
	buf, err := g.top.Get(int64(i))
	if err != nil {
		return alignment.TopSegment{}, haltypes.Wrap(err, haltypes.KindOf(err), "genome %s: top segment %d", g.name, i)
	}
	return alignment.DecodeTopSegment(buf), nil
}

// BottomSegment fetches one bottom-segment record.
func (g *Genome) BottomSegment(i haltypes.ArrayIndex) (alignment.BottomSegment, error) {
	buf, err := g.bottom.Get(int64(i))
	if err != nil {
		return alignment.BottomSegment{}, haltypes.Wrap(err, haltypes.KindOf(err), "genome %s: bottom segment %d", g.name, i)
	}
	return alignment.DecodeBottomSegment(buf, g.NumChildren()), nil
}

// SetTopSegment stores one top-segment record.
func (g *Genome) SetTopSegment(i haltypes.ArrayIndex, seg alignment.TopSegment) error {
	buf, err := g.top.GetUpdate(int64(i))
	if err != nil {
		return err
	}
	alignment.EncodeTopSegment(buf, seg)
	return nil
}

// SetBottomSegment stores one bottom-segment record.
func (g *Genome) SetBottomSegment(i haltypes.ArrayIndex, seg alignment.BottomSegment) error {
	if len(seg.ChildIndex) != g.NumChildren() || len(seg.ChildReversed) != g.NumChildren() {
		return haltypes.New(haltypes.PreconditionViolated,
			"genome %s: bottom segment %d has %d child slots, genome has %d children",
			g.name, i, len(seg.ChildIndex), g.NumChildren())
	}
	buf, err := g.bottom.GetUpdate(int64(i))
	if err != nil {
		return err
	}
	alignment.EncodeBottomSegment(buf, seg)
	return nil
}

// DNA reads and decodes [start, start+length).
func (g *Genome) DNA(start, length haltypes.Position) ([]haltypes.Base, error) {
	if g.dna == nil {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no DNA array", g.name)
	}
	if start < 0 || length < 0 || start+length > g.total {
		return nil, haltypes.New(haltypes.OutOfRange, "genome %s: DNA range [%d,%d) out of [0,%d)", g.name, start, start+length, g.total)
	}
	out := make([]haltypes.Base, 0, length)
	for pos := start; pos < start+length; {
		span, err := g.dna.Span(int64(pos))
		if err != nil {
			return nil, err
		}
		want := int(start + length - pos)
		if want < len(span) {
			span = span[:want]
		}
		for _, b := range span {
			out = append(out, haltypes.Base(b))
		}
		pos += haltypes.Position(len(span))
	}
	return out, nil
}

// DNAAccess opens the byte-oriented mutation window over the DNA array.
func (g *Genome) DNAAccess() (alignment.DNAAccess, error) {
	if !g.a.writable {
		return nil, haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	if g.dna == nil {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no DNA array", g.name)
	}
	return &chunkDNAAccess{g: g}, nil
}

// SetString writes an ASCII DNA string starting at start.
func (g *Genome) SetString(start haltypes.Position, dna string) error {
	acc, err := g.DNAAccess()
	if err != nil {
		return err
	}
	if err := acc.WriteString(start, dna); err != nil {
		return err
	}
	return acc.Close()
}

// TopSegmentAtSite binary-searches the top array for the segment covering
// pos; segments are stored in coordinate order and cover the genome exactly.
func (g *Genome) TopSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return g.segmentAtSite(pos, g.top, true)
}

// BottomSegmentAtSite is TopSegmentAtSite over the bottom array.
func (g *Genome) BottomSegmentAtSite(pos haltypes.Position) (haltypes.ArrayIndex, error) {
	return g.segmentAtSite(pos, g.bottom, false)
}

func (g *Genome) segmentAtSite(pos haltypes.Position, arr *Array, top bool) (haltypes.ArrayIndex, error) {
	layer := "bottom"
	if top {
		layer = "top"
	}
	if pos < 0 || pos >= g.total {
		return 0, haltypes.New(haltypes.OutOfRange, "genome %s: site %d out of [0,%d)", g.name, pos, g.total)
	}
	n := arr.Size()
	if n == 0 {
		return 0, haltypes.New(haltypes.OutOfRange, "genome %s: no %s segments", g.name, layer)
	}
	lo, hi := int64(0), n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		buf, err := arr.Get(mid)
		if err != nil {
			return 0, err
		}
		if segStart(buf) <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	buf, err := arr.Get(lo)
	if err != nil {
		return 0, err
	}
	if start, length := segStart(buf), segLength(buf); pos < start || pos >= start+length {
		return 0, haltypes.New(haltypes.CorruptAlignment,
			"genome %s: %s segment %d [%d,%d) does not cover site %d", g.name, layer, lo, start, start+length, pos)
	}
	return haltypes.ArrayIndex(lo), nil
}

// chunkDNAAccess writes base codes straight into the DNA array's cached
// chunks; Flush pushes the dirty chunks down through the write-back cache.
type chunkDNAAccess struct {
	g *Genome
}

func (d *chunkDNAAccess) Write(start haltypes.Position, bases []haltypes.Base) error {
	if start < 0 || start+haltypes.Position(len(bases)) > d.g.total {
		return haltypes.New(haltypes.OutOfRange,
			"genome %s: DNA write [%d,%d) out of [0,%d)", d.g.name, start, start+haltypes.Position(len(bases)), d.g.total)
	}
	for i := 0; i < len(bases); {
		span, err := d.g.dna.UpdateSpan(int64(start) + int64(i))
		if err != nil {
			return err
		}
		n := len(bases) - i
		if n > len(span) {
			n = len(span)
		}
		for j := 0; j < n; j++ {
			span[j] = byte(bases[i+j])
		}
		i += n
	}
	return nil
}

func (d *chunkDNAAccess) WriteString(start haltypes.Position, dna string) error {
	return d.Write(start, haltypes.EncodeString(dna))
}

func (d *chunkDNAAccess) Flush() error { return d.g.dna.Write() }

func (d *chunkDNAAccess) Close() error { return d.Flush() }

// sequenceHandle is a view into the genome's sequence table.
type sequenceHandle struct {
	g   *Genome
	idx int
}

var _ alignment.Sequence = (*sequenceHandle)(nil)

func (s *sequenceHandle) Name() string { return s.g.seqs[s.idx].Name }

func (s *sequenceHandle) Genome() alignment.Genome { return s.g }

func (s *sequenceHandle) StartPosition() haltypes.Position { return s.g.starts[s.idx] }

func (s *sequenceHandle) Length() haltypes.Position { return s.g.seqs[s.idx].Length }

func (s *sequenceHandle) NumTopSegments() int { return s.g.seqs[s.idx].NumTop }

func (s *sequenceHandle) NumBottomSegments() int { return s.g.seqs[s.idx].NumBottom }

func (s *sequenceHandle) FirstTopSegment() haltypes.ArrayIndex {
	if s.g.seqs[s.idx].NumTop == 0 {
		return haltypes.NullIndex
	}
	return haltypes.ArrayIndex(s.g.topStarts[s.idx])
}

func (s *sequenceHandle) FirstBottomSegment() haltypes.ArrayIndex {
	if s.g.seqs[s.idx].NumBottom == 0 {
		return haltypes.NullIndex
	}
	return haltypes.ArrayIndex(s.g.bottomStarts[s.idx])
}

// Top and bottom records share their first two fields (start, length), so
// the site search reads them without decoding the whole record.
func segStart(rec []byte) haltypes.Position {
	return haltypes.Position(binary.LittleEndian.Uint64(rec[0:]))
}

func segLength(rec []byte) haltypes.Position {
	return haltypes.Position(binary.LittleEndian.Uint64(rec[8:]))
}
