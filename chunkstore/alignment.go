// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package chunkstore

import (
	"bytes"
	"encoding/binary"

	"v.io/x/lib/vlog"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/blob"
	"github.com/halkit/hal/haltypes"
)

// FormatName is the façade's name for this backend.
const FormatName = "hdf5-like"

// Well-known dataset names inside a genome's group.
const (
	dnaArrayName    = "DNA_ARRAY"
	topArrayName    = "TOP_ARRAY"
	bottomArrayName = "BOTTOM_ARRAY"
	metaName        = "Meta"
	sequencesName   = "Sequences"
	treeName        = "/Tree"
	rootMetaName    = "/Meta"
)

func genomeDataset(genome, array string) string { return "/" + genome + "/" + array }

// Alignment is the chunked backend's implementation of the alignment
// capability set.
type Alignment struct {
	c        *Container
	props    CreationProps
	writable bool
	root     string
	order    []string // creation order; parents precede children
	parents  map[string]string
	children map[string][]string
	genomes  map[string]*Genome
	meta     map[string]string
}

var (
	_ alignment.Alignment         = (*Alignment)(nil)
	_ alignment.WritableAlignment = (*Alignment)(nil)
)

// CreateAlignment creates a new, empty alignment file at path.
func CreateAlignment(path string, props CreationProps) (*Alignment, error) {
	c, err := CreateContainer(path)
	if err != nil {
		return nil, err
	}
	return &Alignment{
		c:        c,
		props:    props.withDefaults(),
		writable: true,
		parents:  make(map[string]string),
		children: make(map[string][]string),
		genomes:  make(map[string]*Genome),
		meta:     make(map[string]string),
	}, nil
}

// OpenAlignment binds read-only to an existing alignment file through r.
func OpenAlignment(path string, r blob.Reader, props CreationProps) (*Alignment, error) {
	c, err := OpenContainer(path, r)
	if err != nil {
		r.Close() // nolint: errcheck
		return nil, err
	}
	a := &Alignment{
		c:        c,
		props:    props.withDefaults(),
		parents:  make(map[string]string),
		children: make(map[string][]string),
		genomes:  make(map[string]*Genome),
	}
	if err := a.readTree(); err != nil {
		c.Close() // nolint: errcheck
		return nil, err
	}
	metaBlob, err := c.GetBlob(rootMetaName)
	if err != nil {
		c.Close() // nolint: errcheck
		return nil, err
	}
	if a.meta, err = alignment.DecodeStringMap(metaBlob); err != nil {
		c.Close() // nolint: errcheck
		return nil, err
	}
	vlog.VI(1).Infof("chunkstore: opened %s, %d genomes, root %q", path, len(a.order), a.root)
	return a, nil
}

// The tree blob lists genomes in creation order as (name, parentName) pairs;
// an empty parent marks the root, and a parent's children keep their
// first-seen order, which is the order child indices in bottom segments
// refer to.
func (a *Alignment) readTree() error {
	data, err := a.c.GetBlob(treeName)
	if err != nil {
		return err
	}
	rd := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return haltypes.Wrap(err, haltypes.BadFormat, "%s: truncated genome tree", a.c.path)
	}
	for i := uint32(0); i < n; i++ {
		name, err := readString16(rd)
		if err != nil {
			return haltypes.Wrap(err, haltypes.BadFormat, "%s: genome tree entry %d", a.c.path, i)
		}
		parent, err := readString16(rd)
		if err != nil {
			return haltypes.Wrap(err, haltypes.BadFormat, "%s: genome tree entry %d", a.c.path, i)
		}
		a.order = append(a.order, name)
		if parent == "" {
			if a.root != "" {
				return haltypes.New(haltypes.CorruptAlignment, "%s: two roots (%s, %s)", a.c.path, a.root, name)
			}
			a.root = name
		} else {
			a.parents[name] = parent
			a.children[parent] = append(a.children[parent], name)
		}
	}
	if a.root == "" && n > 0 {
		return haltypes.New(haltypes.CorruptAlignment, "%s: no root genome", a.c.path)
	}
	return nil
}

func (a *Alignment) writeTree() error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.order))) // nolint: errcheck
	for _, name := range a.order {
		writeString16(&buf, name)
		writeString16(&buf, a.parents[name])
	}
	return a.c.PutBlob(treeName, buf.Bytes())
}

// RootName returns the name of the root genome.
func (a *Alignment) RootName() string { return a.root }

// GenomeNames lists every genome, parents before children.
func (a *Alignment) GenomeNames() []string {
	return append([]string(nil), a.order...)
}

// Metadata returns the alignment-level metadata map.
func (a *Alignment) Metadata() map[string]string { return a.meta }

// Format reports "hdf5-like".
func (a *Alignment) Format() string { return FormatName }

// Genome opens (or returns the cached handle of) the named genome.
func (a *Alignment) Genome(name string) (alignment.Genome, error) {
	g, err := a.genome(name)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (a *Alignment) genome(name string) (*Genome, error) {
	if g, ok := a.genomes[name]; ok {
		return g, nil
	}
	found := false
	for _, n := range a.order {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, haltypes.New(haltypes.NotFound, "%s: no genome %q", a.c.path, name)
	}
	g, err := loadGenome(a, name)
	if err != nil {
		return nil, err
	}
	a.genomes[name] = g
	return g, nil
}

// AddRootGenome creates the root genome.
func (a *Alignment) AddRootGenome(name string) (alignment.WritableGenome, error) {
	if a.root != "" {
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: root %q already exists", a.c.path, a.root)
	}
	g, err := a.addGenome(name)
	if err != nil {
		return nil, err
	}
	a.root = name
	return g, nil
}

// AddLeafGenome creates a genome as the next child of parentName. All of a
// parent's children must be added before the parent's SetDimensions call:
// the bottom-segment record width depends on the child count.
func (a *Alignment) AddLeafGenome(name, parentName string) (alignment.WritableGenome, error) {
	if _, ok := a.parents[parentName]; !ok && parentName != a.root {
		return nil, haltypes.New(haltypes.NotFound, "%s: no parent genome %q", a.c.path, parentName)
	}
	if p, ok := a.genomes[parentName]; ok && p.dimensionsSet {
		return nil, haltypes.New(haltypes.PreconditionViolated,
			"%s: cannot add child %q after %q's dimensions were set", a.c.path, name, parentName)
	}
	g, err := a.addGenome(name)
	if err != nil {
		return nil, err
	}
	a.parents[name] = parentName
	a.children[parentName] = append(a.children[parentName], name)
	return g, nil
}

func (a *Alignment) addGenome(name string) (*Genome, error) {
	if !a.writable {
		return nil, haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.c.path)
	}
	if name == "" {
		return nil, haltypes.New(haltypes.PreconditionViolated, "empty genome name")
	}
	for _, n := range a.order {
		if n == name {
			return nil, haltypes.New(haltypes.PreconditionViolated, "%s: genome %q already exists", a.c.path, name)
		}
	}
	g := newGenome(a, name)
	a.order = append(a.order, name)
	a.genomes[name] = g
	return g, nil
}

// SetMetadata stores an alignment-level key/value pair.
func (a *Alignment) SetMetadata(key, value string) error {
	if !a.writable {
		return haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.c.path)
	}
	a.meta[key] = value
	return nil
}

// Close flushes every dirty array and table, finalizes the container
// directory, and releases the file. Read-only handles just release.
func (a *Alignment) Close() error {
	if a.writable {
		for _, name := range a.order {
			g := a.genomes[name]
			if g == nil {
				continue
			}
			if err := g.flush(); err != nil {
				return err
			}
		}
		if err := a.writeTree(); err != nil {
			return err
		}
		if err := a.c.PutBlob(rootMetaName, alignment.EncodeStringMap(a.meta)); err != nil {
			return err
		}
		if err := a.c.Finalize(); err != nil {
			return err
		}
	}
	return a.c.Close()
}
