// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mmaparena

import (
	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// DNA is packed two bases per byte, high nibble first, with the codes fixed
// by the file format (A=0 C=1 G=2 T=3 N=4). An odd total length pads the
// final low nibble with zero; the pad is never addressable.

func nibbleRead(b byte, pos haltypes.Position) haltypes.Base {
	if pos%2 == 0 {
		return haltypes.Base(b >> 4)
	}
	return haltypes.Base(b & 0x0f)
}

func nibbleWrite(b byte, pos haltypes.Position, base haltypes.Base) byte {
	if pos%2 == 0 {
		return (b & 0x0f) | (byte(base) << 4)
	}
	return (b & 0xf0) | byte(base)
}

// DNA reads and decodes [start, start+length).
func (g *Genome) DNA(start, length haltypes.Position) ([]haltypes.Base, error) {
	dnaOff := int64(g.field(ghDNA))
	if dnaOff == 0 {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no DNA array", g.name)
	}
	if start < 0 || length < 0 || start+length > g.total {
		return nil, haltypes.New(haltypes.OutOfRange,
			"genome %s: DNA range [%d,%d) out of [0,%d)", g.name, start, start+length, g.total)
	}
	packed, err := g.a.arena.Bytes(dnaOff, (int64(g.total)+1)/2)
	if err != nil {
		return nil, err
	}
	out := make([]haltypes.Base, length)
	for i := range out {
		pos := start + haltypes.Position(i)
		out[i] = nibbleRead(packed[pos/2], pos)
	}
	return out, nil
}

// DNAAccess opens the byte-oriented mutation window. Writes go straight to
// the mapping; a write touching a nibble adjacent to untouched data
// read-modify-writes the shared byte.
func (g *Genome) DNAAccess() (alignment.DNAAccess, error) {
	if !g.a.arena.Writable() {
		return nil, haltypes.New(haltypes.NotWritable, "genome %s: opened read-only", g.name)
	}
	if g.field(ghDNA) == 0 {
		return nil, haltypes.New(haltypes.NotFound, "genome %s: no DNA array", g.name)
	}
	return &mmapDNAAccess{g: g}, nil
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

type mmapDNAAccess struct {
	g *Genome
}

func (d *mmapDNAAccess) Write(start haltypes.Position, bases []haltypes.Base) error {
	g := d.g
	end := start + haltypes.Position(len(bases))
	if start < 0 || end > g.total {
		return haltypes.New(haltypes.OutOfRange,
			"genome %s: DNA write [%d,%d) out of [0,%d)", g.name, start, end, g.total)
	}
	if len(bases) == 0 {
		return nil
	}
	packed, err := g.a.arena.Bytes(int64(g.field(ghDNA)), (int64(g.total)+1)/2)
	if err != nil {
		return err
	}
	for i, base := range bases {
		pos := start + haltypes.Position(i)
		packed[pos/2] = nibbleWrite(packed[pos/2], pos, base)
	}
	return nil
}

func (d *mmapDNAAccess) WriteString(start haltypes.Position, dna string) error {
	return d.Write(start, haltypes.EncodeString(dna))
}

// Flush is a no-op: the mapping is the store. Durability comes from the
// arena's msync on Close.
func (d *mmapDNAAccess) Flush() error { return nil }

func (d *mmapDNAAccess) Close() error { return nil }
