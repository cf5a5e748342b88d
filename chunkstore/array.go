// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package chunkstore

import (
	"sort"

	"github.com/halkit/hal/haltypes"
)

// CreationProps configures a new Array. The zero value takes the package
// defaults (DefaultChunkElems etc.).
type CreationProps struct {
	// ChunkElems is the number of elements per chunk.
	ChunkElems int
	// Codec selects the per-chunk compression: CodecRaw, CodecDeflate or
	// CodecSnappy.
	Codec byte
	// DeflateLevel is the deflate level 1-9, used when Codec is CodecDeflate.
	// A zero level takes DefaultDeflateLevel, so level 0 cannot be selected
	// through CreationProps.
	DeflateLevel int
	// CachedChunks bounds the resident chunk count M.
	CachedChunks int
	// CacheWeight in (0,1] biases eviction toward keeping chunks that have
	// been re-read, the role the original backend's w0 cache parameter
	// plays. A zero weight takes DefaultCacheWeight, so weight 0 (plain LRU)
	// cannot be selected through CreationProps.
	CacheWeight float64
}

// Backend-configured defaults; part of the public surface.
const (
	DefaultChunkElems   = 8192
	DefaultDeflateLevel = 2
	DefaultCachedChunks = 64
	DefaultCacheWeight  = 0.75
)

func (p CreationProps) withDefaults() CreationProps {
	if p.ChunkElems == 0 {
		p.ChunkElems = DefaultChunkElems
	}
	if p.Codec == 0 {
		p.Codec = CodecDeflate
	}
	if p.Codec == CodecDeflate && p.DeflateLevel == 0 {
		p.DeflateLevel = DefaultDeflateLevel
	}
	if p.CachedChunks == 0 {
		p.CachedChunks = DefaultCachedChunks
	}
	if p.CacheWeight == 0 {
		p.CacheWeight = DefaultCacheWeight
	}
	return p
}

type cachedChunk struct {
	idx     int
	data    []byte
	dirty   bool
	lastUse int64
	hits    int64
}

// Array is one typed fixed-stride dataset: elements addressed by index,
// persisted as independently compressed chunks, with at most maxResident
// chunks in memory at a time and a write-back dirty bit per cached chunk.
type Array struct {
	c           *Container
	ds          *dataset
	writable    bool
	maxResident int
	weight      float64
	clock       int64
	cache       map[int]*cachedChunk
}

// Create reserves a new dataset named name under c with totalElems elements
// of elemSize bytes each.
func Create(c *Container, name string, elemSize int, totalElems int64, props CreationProps) (*Array, error) {
	props = props.withDefaults()
	if props.DeflateLevel < 0 || props.DeflateLevel > 9 {
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: deflate level %d out of [0,9]", name, props.DeflateLevel)
	}
	ds, err := c.createDataset(name, elemSize, totalElems, props.ChunkElems, props.Codec, props.DeflateLevel)
	if err != nil {
		return nil, err
	}
	return &Array{
		c:           c,
		ds:          ds,
		writable:    true,
		maxResident: props.CachedChunks,
		weight:      props.CacheWeight,
		cache:       make(map[int]*cachedChunk),
	}, nil
}

// Load binds to an existing dataset, reading its header and chunk geometry
// from the container directory.
func Load(c *Container, name string, props CreationProps) (*Array, error) {
	props = props.withDefaults()
	ds, err := c.lookupDataset(name)
	if err != nil {
		return nil, err
	}
	return &Array{
		c:           c,
		ds:          ds,
		writable:    c.writable,
		maxResident: props.CachedChunks,
		weight:      props.CacheWeight,
		cache:       make(map[int]*cachedChunk),
	}, nil
}

// Size returns the total element count.
func (a *Array) Size() int64 { return a.ds.totalElems }

// ElemSize returns the fixed per-element byte width.
func (a *Array) ElemSize() int { return a.ds.elemSize }

func (a *Array) chunkFor(i int64) (*cachedChunk, int, error) {
	if i < 0 || i >= a.ds.totalElems {
		return nil, 0, haltypes.New(haltypes.OutOfRange, "%s: index %d out of [0,%d)", a.ds.name, i, a.ds.totalElems)
	}
	idx := int(i / int64(a.ds.chunkElems))
	within := int(i%int64(a.ds.chunkElems)) * a.ds.elemSize
	cc, ok := a.cache[idx]
	if !ok {
		if err := a.makeRoom(); err != nil {
			return nil, 0, err
		}
		data, err := a.c.readChunk(a.ds, idx)
		if err != nil {
			return nil, 0, err
		}
		cc = &cachedChunk{idx: idx, data: data}
		a.cache[idx] = cc
	} else {
		cc.hits++
	}
	a.clock++
	cc.lastUse = a.clock
	return cc, within, nil
}

// makeRoom evicts until a new chunk fits under the maxResident bound. The
// eviction score is lastUse + weight*hits: a plain LRU at weight 0, and at
// higher weights chunks that keep getting re-read outlive colder but more
// recently touched ones.
func (a *Array) makeRoom() error {
	for len(a.cache) >= a.maxResident {
		var victim *cachedChunk
		var best float64
		for _, cc := range a.cache {
			score := float64(cc.lastUse) + a.weight*float64(cc.hits)
			if victim == nil || score < best {
				victim, best = cc, score
			}
		}
		if victim.dirty {
			if err := a.c.appendChunk(a.ds, victim.idx, victim.data); err != nil {
				return err
			}
		}
		delete(a.cache, victim.idx)
	}
	return nil
}

// Get returns the bytes of element i. The returned slice aliases the cached
// chunk and is valid only until the next call that may evict.
func (a *Array) Get(i int64) ([]byte, error) {
	cc, off, err := a.chunkFor(i)
	if err != nil {
		return nil, err
	}
	return cc.data[off : off+a.ds.elemSize], nil
}

// GetUpdate is Get plus marking the containing chunk dirty; the caller may
// mutate the returned bytes. Fails with NotWritable on a read-only array.
func (a *Array) GetUpdate(i int64) ([]byte, error) {
	if !a.writable {
		return nil, haltypes.New(haltypes.NotWritable, "%s: array opened read-only", a.ds.name)
	}
	cc, off, err := a.chunkFor(i)
	if err != nil {
		return nil, err
	}
	cc.dirty = true
	return cc.data[off : off+a.ds.elemSize], nil
}

// Span returns the bytes from element i to the end of its chunk, for bulk
// readers that want to avoid a Get per element. Same validity rule as Get.
func (a *Array) Span(i int64) ([]byte, error) {
	cc, off, err := a.chunkFor(i)
	if err != nil {
		return nil, err
	}
	return cc.data[off:], nil
}

// UpdateSpan is Span plus the dirty bit, for bulk writers.
func (a *Array) UpdateSpan(i int64) ([]byte, error) {
	if !a.writable {
		return nil, haltypes.New(haltypes.NotWritable, "%s: array opened read-only", a.ds.name)
	}
	cc, off, err := a.chunkFor(i)
	if err != nil {
		return nil, err
	}
	cc.dirty = true
	return cc.data[off:], nil
}

// Write flushes all dirty chunks in index order. Idempotent: a second call
// with no intervening mutation writes nothing.
func (a *Array) Write() error {
	if !a.writable {
		return nil
	}
	dirty := make([]*cachedChunk, 0, len(a.cache))
	for _, cc := range a.cache {
		if cc.dirty {
			dirty = append(dirty, cc)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].idx < dirty[j].idx })
	for _, cc := range dirty {
		if err := a.c.appendChunk(a.ds, cc.idx, cc.data); err != nil {
			return err
		}
		cc.dirty = false
	}
	return nil
}
