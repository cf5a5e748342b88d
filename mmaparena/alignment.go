// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mmaparena

import (
	"blainsmith.com/go/seahash"
	"v.io/x/lib/vlog"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// FormatName is the façade's name for this backend.
const FormatName = "mmap"

// The first record allocated in a new arena is an 8-byte cell holding the
// offset of the alignment-level metadata blob; being first pins it at the
// byte right after the superblock, where open can find it without a
// directory.
const metaCellOff = superblockSize

// Alignment is the mmap backend's implementation of the alignment
// capability set.
type Alignment struct {
	arena   *Arena
	root    string
	order   []string // creation order when built, BFS order when opened: parents before children
	offsets map[string]int64
	genomes map[string]*Genome
	meta    map[string]string
}

var (
	_ alignment.Alignment         = (*Alignment)(nil)
	_ alignment.WritableAlignment = (*Alignment)(nil)
)

// CreateAlignment creates a new, empty alignment file at path.
func CreateAlignment(path string, opts ArenaOptions) (*Alignment, error) {
	arena, err := CreateArena(path, opts)
	if err != nil {
		return nil, err
	}
	cell, err := arena.AllocateNewArray(8)
	if err != nil {
		arena.Close() // nolint: errcheck
		return nil, err
	}
	if cell != metaCellOff {
		arena.Close() // nolint: errcheck
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: metadata cell landed at %d", path, cell)
	}
	return &Alignment{
		arena:   arena,
		offsets: make(map[string]int64),
		genomes: make(map[string]*Genome),
		meta:    make(map[string]string),
	}, nil
}

// OpenAlignment maps an existing alignment file. writable reopens support
// appending new arrays only; there is no in-place editing of existing
// records beyond field swings.
func OpenAlignment(path string, writable bool, opts ArenaOptions) (*Alignment, error) {
	arena, err := OpenArena(path, writable, opts)
	if err != nil {
		return nil, err
	}
	a := &Alignment{
		arena:   arena,
		offsets: make(map[string]int64),
		genomes: make(map[string]*Genome),
		meta:    make(map[string]string),
	}
	if err := a.loadTree(); err != nil {
		arena.release()
		return nil, err
	}
	if cellVal, err := arena.U64(metaCellOff); err == nil && cellVal != 0 {
		blob, err := a.readBlob(int64(cellVal))
		if err != nil {
			arena.release()
			return nil, err
		}
		if a.meta, err = alignment.DecodeStringMap(blob); err != nil {
			arena.release()
			return nil, err
		}
	}
	vlog.VI(1).Infof("mmaparena: opened %s, %d genomes, root %q", path, len(a.order), a.root)
	return a, nil
}

// loadTree walks genome headers breadth-first from the superblock's root
// offset, building the name and offset tables.
func (a *Alignment) loadTree() error {
	rootOff := a.arena.RootOffset()
	if rootOff == 0 {
		return nil // empty alignment
	}
	queue := []int64{rootOff}
	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]
		g, err := loadGenome(a, off)
		if err != nil {
			return err
		}
		if _, dup := a.offsets[g.name]; dup {
			return haltypes.New(haltypes.CorruptAlignment, "%s: genome %q appears twice in the tree", a.arena.Path(), g.name)
		}
		a.order = append(a.order, g.name)
		a.offsets[g.name] = off
		a.genomes[g.name] = g
		if off == rootOff {
			a.root = g.name
		}
		childrenOff := int64(g.field(ghChildren))
		for i := 0; i < g.NumChildren(); i++ {
			childOff, err := a.arena.U64(childrenOff + int64(i)*8)
			if err != nil {
				return err
			}
			queue = append(queue, int64(childOff))
		}
	}
	return nil
}

// nameAt reads the name of the genome whose header is at headerOff.
func (a *Alignment) nameAt(headerOff int64) (string, error) {
	nameOff, err := a.arena.U64(headerOff + ghName)
	if err != nil {
		return "", err
	}
	nameLen, err := a.arena.U64(headerOff + ghNameLen)
	if err != nil {
		return "", err
	}
	return a.arena.String(int64(nameOff), int64(nameLen))
}

// readBlob reads a length-prefixed byte record.
func (a *Alignment) readBlob(off int64) ([]byte, error) {
	n, err := a.arena.U64(off)
	if err != nil {
		return nil, err
	}
	return a.arena.Bytes(off+8, int64(n))
}

// writeBlob allocates and fills a length-prefixed byte record.
func (a *Alignment) writeBlob(data []byte) (int64, error) {
	off, err := a.arena.AllocateNewArray(8 + int64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := a.arena.PutU64(off, uint64(len(data))); err != nil {
		return 0, err
	}
	b, err := a.arena.Bytes(off+8, int64(len(data)))
	if err != nil {
		return 0, err
	}
	copy(b, data)
	return off, nil
}

// RootName returns the name of the root genome.
func (a *Alignment) RootName() string { return a.root }

// GenomeNames lists every genome, parents before children.
func (a *Alignment) GenomeNames() []string { return append([]string(nil), a.order...) }

// Metadata returns the alignment-level metadata map.
func (a *Alignment) Metadata() map[string]string { return a.meta }

// Format reports "mmap".
func (a *Alignment) Format() string { return FormatName }

// Genome returns the named genome handle.
func (a *Alignment) Genome(name string) (alignment.Genome, error) {
	g, ok := a.genomes[name]
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "%s: no genome %q", a.arena.Path(), name)
	}
	return g, nil
}

// SetMetadata stores an alignment-level key/value pair.
func (a *Alignment) SetMetadata(key, value string) error {
	if !a.arena.Writable() {
		return haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.arena.Path())
	}
	a.meta[key] = value
	return nil
}

// AddRootGenome creates the root genome.
func (a *Alignment) AddRootGenome(name string) (alignment.WritableGenome, error) {
	if a.root != "" {
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: root %q already exists", a.arena.Path(), a.root)
	}
	g, err := a.addGenome(name, 0)
	if err != nil {
		return nil, err
	}
	if err := a.arena.SetRootOffset(g.headerOff); err != nil {
		return nil, err
	}
	a.root = name
	return g, nil
}

// AddLeafGenome creates a genome as the next child of parentName. The
// parent's children array is reallocated one slot larger and the header
// offset swings to it; the old array is dead space. All children must exist
// before the parent's SetDimensions call sizes its bottom records.
func (a *Alignment) AddLeafGenome(name, parentName string) (alignment.WritableGenome, error) {
	parent, ok := a.genomes[parentName]
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "%s: no parent genome %q", a.arena.Path(), parentName)
	}
	if parent.dimensionsSet {
		return nil, haltypes.New(haltypes.PreconditionViolated,
			"%s: cannot add child %q after %q's dimensions were set", a.arena.Path(), name, parentName)
	}
	g, err := a.addGenome(name, parent.headerOff)
	if err != nil {
		return nil, err
	}
	n := parent.NumChildren()
	oldOff := int64(parent.field(ghChildren))
	newOff, err := a.arena.AllocateNewArray(int64(n+1) * 8)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, err := a.arena.U64(oldOff + int64(i)*8)
		if err != nil {
			return nil, err
		}
		if err := a.arena.PutU64(newOff+int64(i)*8, v); err != nil {
			return nil, err
		}
	}
	if err := a.arena.PutU64(newOff+int64(n)*8, uint64(g.headerOff)); err != nil {
		return nil, err
	}
	if err := parent.setField(ghChildren, uint64(newOff)); err != nil {
		return nil, err
	}
	if err := parent.setField(ghNumChildren, uint64(n+1)); err != nil {
		return nil, err
	}
	return g, nil
}

func (a *Alignment) addGenome(name string, parentOff int64) (*Genome, error) {
	if !a.arena.Writable() {
		return nil, haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.arena.Path())
	}
	if name == "" {
		return nil, haltypes.New(haltypes.PreconditionViolated, "empty genome name")
	}
	if _, dup := a.offsets[name]; dup {
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: genome %q already exists", a.arena.Path(), name)
	}
	headerOff, err := a.arena.AllocateNewArray(genomeHeaderSize)
	if err != nil {
		return nil, err
	}
	nameOff, err := a.arena.AllocateString(name)
	if err != nil {
		return nil, err
	}
	g := &Genome{a: a, name: name, headerOff: headerOff, meta: make(map[string]string)}
	if err := g.setField(ghName, uint64(nameOff)); err != nil {
		return nil, err
	}
	if err := g.setField(ghNameLen, uint64(len(name))); err != nil {
		return nil, err
	}
	if err := g.setField(ghParent, uint64(parentOff)); err != nil {
		return nil, err
	}
	a.order = append(a.order, name)
	a.offsets[name] = headerOff
	a.genomes[name] = g
	return g, nil
}

func (a *Alignment) rename(oldName, newName string) {
	off := a.offsets[oldName]
	g := a.genomes[oldName]
	delete(a.offsets, oldName)
	delete(a.genomes, oldName)
	a.offsets[newName] = off
	a.genomes[newName] = g
	for i, n := range a.order {
		if n == oldName {
			a.order[i] = newName
		}
	}
	if a.root == oldName {
		a.root = newName
	}
}

// VerifyDNAChecksums recomputes every genome's DNA seahash and compares it
// with the value stamped at close time.
func (a *Alignment) VerifyDNAChecksums() error {
	for _, name := range a.order {
		g := a.genomes[name]
		dnaOff := int64(g.field(ghDNA))
		if dnaOff == 0 {
			continue
		}
		packed, err := a.arena.Bytes(dnaOff, (int64(g.total)+1)/2)
		if err != nil {
			return err
		}
		want := g.field(ghDNAHash)
		if got := seahash.Sum64(packed); want != 0 && got != want {
			return haltypes.New(haltypes.CorruptAlignment,
				"genome %s: DNA checksum mismatch (stored %x, computed %x)", name, want, got)
		}
	}
	return nil
}

// Close serializes pending metadata tables, stamps DNA checksums, msyncs,
// and unmaps. Read-only handles just unmap.
func (a *Alignment) Close() error {
	if a.arena.Writable() {
		for _, name := range a.order {
			g := a.genomes[name]
			if len(g.meta) > 0 {
				off, err := a.writeBlob(alignment.EncodeStringMap(g.meta))
				if err != nil {
					return err
				}
				if err := g.setField(ghMeta, uint64(off)); err != nil {
					return err
				}
			}
			if dnaOff := int64(g.field(ghDNA)); dnaOff != 0 {
				packed, err := a.arena.Bytes(dnaOff, (int64(g.total)+1)/2)
				if err != nil {
					return err
				}
				if err := g.setField(ghDNAHash, seahash.Sum64(packed)); err != nil {
					return err
				}
			}
		}
		if len(a.meta) > 0 {
			off, err := a.writeBlob(alignment.EncodeStringMap(a.meta))
			if err != nil {
				return err
			}
			if err := a.arena.PutU64(metaCellOff, uint64(off)); err != nil {
				return err
			}
		}
	}
	return a.arena.Close()
}
