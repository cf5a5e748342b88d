// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hal is the façade over the two storage backends: it autodetects a
// file's format from its first bytes, dispatches creation by requested
// format, and re-exports the backend defaults as one immutable config
// table.
package hal

import (
	"strings"

	"v.io/x/lib/vlog"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/blob"
	"github.com/halkit/hal/chunkstore"
	"github.com/halkit/hal/haltypes"
	"github.com/halkit/hal/mmaparena"
)

// Format names accepted by Options.Format and reported by
// Alignment.Format().
const (
	FormatHDF5 = chunkstore.FormatName // "hdf5-like", backend A
	FormatMmap = mmaparena.FormatName  // "mmap", backend B
)

// detectBytes is how many leading bytes format autodetection peeks at.
const detectBytes = 64

// Options configures both backends. The zero value takes every default from
// the Defaults table.
type Options struct {
	// Format selects the backend on Create ("hdf5-like" or "mmap");
	// ignored on read opens, where the format is detected. Empty means
	// hdf5-like.
	Format string

	// Chunked-store knobs (backend A).
	ChunkElems   int
	Codec        byte
	DeflateLevel int
	CachedChunks int
	CacheWeight  float64

	// Mmap-arena knobs (backend B).
	InitSize int64
	MaxSize  int64
}

// Defaults is the single immutable table of backend default properties,
// constructed at library init. Callers override by value through Options;
// there is no mutable global state.
var Defaults = Options{
	Format:       FormatHDF5,
	ChunkElems:   chunkstore.DefaultChunkElems,
	Codec:        chunkstore.CodecDeflate,
	DeflateLevel: chunkstore.DefaultDeflateLevel,
	CachedChunks: chunkstore.DefaultCachedChunks,
	CacheWeight:  chunkstore.DefaultCacheWeight,
	InitSize:     mmaparena.DefaultInitSize,
	MaxSize:      mmaparena.DefaultMaxSize,
}

func (o Options) chunkProps() chunkstore.CreationProps {
	return chunkstore.CreationProps{
		ChunkElems:   o.ChunkElems,
		Codec:        o.Codec,
		DeflateLevel: o.DeflateLevel,
		CachedChunks: o.CachedChunks,
		CacheWeight:  o.CacheWeight,
	}
}

func (o Options) arenaOpts() mmaparena.ArenaOptions {
	return mmaparena.ArenaOptions{InitSize: o.InitSize, MaxSize: o.MaxSize}
}

// DetectFormat peeks at the first bytes of path and names the backend that
// wrote it. Unrecognized content fails with BadFormat.
func DetectFormat(path string) (string, error) {
	head, err := blob.PeekMagic(path, detectBytes)
	if err != nil {
		return "", err
	}
	return detectFormat(path, head)
}

func detectFormat(path string, head []byte) (string, error) {
	switch {
	case len(head) >= len(mmaparena.Magic) && string(head[:len(mmaparena.Magic)]) == mmaparena.Magic:
		return FormatMmap, nil
	case len(head) >= len(chunkstore.Signature) && string(head[:len(chunkstore.Signature)]) == chunkstore.Signature:
		return FormatHDF5, nil
	default:
		return "", haltypes.New(haltypes.BadFormat, "%s: unable to determine storage format", path)
	}
}

// Open opens an existing alignment read-only, autodetecting the backend.
func Open(path string, opts Options) (alignment.Alignment, error) {
	return OpenWithFormat(path, opts, "")
}

// OpenWithFormat is Open with the detection step overridden. An empty
// overrideFormat detects.
func OpenWithFormat(path string, opts Options, overrideFormat string) (alignment.Alignment, error) {
	format := overrideFormat
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}
	vlog.VI(1).Infof("hal: opening %s as %s", path, format)
	switch format {
	case FormatHDF5:
		r, err := blob.LocalFile(path, false)
		if err != nil {
			return nil, err
		}
		return chunkstore.OpenAlignment(path, r, opts.chunkProps())
	case FormatMmap:
		return mmaparena.OpenAlignment(path, false, opts.arenaOpts())
	default:
		return nil, badFormatName(format)
	}
}

// Create creates a new alignment at path in the backend named by
// opts.Format (hdf5-like when empty).
func Create(path string, opts Options) (alignment.WritableAlignment, error) {
	format := opts.Format
	if format == "" {
		format = FormatHDF5
	}
	switch format {
	case FormatHDF5:
		return chunkstore.CreateAlignment(path, opts.chunkProps())
	case FormatMmap:
		return mmaparena.CreateAlignment(path, opts.arenaOpts())
	default:
		return nil, badFormatName(format)
	}
}

func badFormatName(format string) error {
	return haltypes.New(haltypes.BadFormat, "invalid format %q, expected one of %s",
		format, strings.Join([]string{FormatHDF5, FormatMmap}, " or "))
}

// Opener returns a lod.Opener-shaped function binding these options, for
// wiring the LOD manager to this façade.
func Opener(opts Options) func(path string) (alignment.Alignment, error) {
	return func(path string) (alignment.Alignment, error) {
		return Open(path, opts)
	}
}
