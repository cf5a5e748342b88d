// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mmaparena implements the mmap backend: a single file mapped into
// memory as a growable append-only arena. Everything in the file past the
// superblock is a record reachable by byte offset, from the root-genome
// header or from the alignment metadata cell that directly follows the
// superblock; offsets, never pointers, are persisted, so they survive remaps.
package mmaparena

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"v.io/x/lib/vlog"

	"github.com/halkit/hal/haltypes"
)

// Magic occupies the first 8 bytes of every mmap-backend file.
const Magic = "HALMMAP\x00"

const formatVersion = 1

// Superblock layout, bit-exact per the file-format contract:
// bytes 0..7 magic, 8..11 u32 version, 12..19 u64 root-genome offset,
// 20..27 u64 arena watermark.
const (
	superblockSize  = 28
	rootOffsetField = 12
	watermarkField  = 20
)

// Backend-configured defaults; part of the public surface.
const (
	DefaultInitSize = int64(1) << 20
	DefaultMaxSize  = int64(1) << 40
)

// ArenaOptions bounds the mapping's growth.
type ArenaOptions struct {
	InitSize int64
	MaxSize  int64
}

func (o ArenaOptions) withDefaults() ArenaOptions {
	if o.InitSize == 0 {
		o.InitSize = DefaultInitSize
	}
	if o.MaxSize == 0 {
		o.MaxSize = DefaultMaxSize
	}
	return o
}

// Arena owns the mapped file. Allocation is bump-only: AllocateNewArray
// advances the watermark, remapping with geometric growth when it crosses
// the current mapping. A remap never truncates nor reorders, so offsets
// handed out earlier stay valid.
type Arena struct {
	path      string
	f         *os.File
	m         mmap.MMap
	writable  bool
	mapped    int64
	watermark int64
	maxSize   int64
}

// CreateArena creates a new arena file at path, truncating any existing
// file, and writes a fresh superblock.
func CreateArena(path string, opts ArenaOptions) (*Arena, error) {
	opts = opts.withDefaults()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "create %s", path)
	}
	if err := f.Truncate(opts.InitSize); err != nil {
		f.Close() // nolint: errcheck
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "truncate %s", path)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "map %s", path)
	}
	a := &Arena{
		path:      path,
		f:         f,
		m:         m,
		writable:  true,
		mapped:    opts.InitSize,
		watermark: superblockSize,
		maxSize:   opts.MaxSize,
	}
	copy(a.m, Magic)
	binary.LittleEndian.PutUint32(a.m[8:], formatVersion)
	binary.LittleEndian.PutUint64(a.m[rootOffsetField:], 0)
	a.storeWatermark()
	return a, nil
}

// OpenArena maps an existing arena file. writable opens fail with
// NotWritable later, at mutation time, not here; a mismatched magic or
// version fails now with BadFormat.
func OpenArena(path string, writable bool, opts ArenaOptions) (*Arena, error) {
	opts = opts.withDefaults()
	flag := os.O_RDONLY
	prot := mmap.RDONLY
	if writable {
		flag = os.O_RDWR
		prot = mmap.RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, haltypes.Wrap(err, haltypes.NotFound, "open %s", path)
		}
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "stat %s", path)
	}
	if fi.Size() < superblockSize {
		f.Close() // nolint: errcheck
		return nil, haltypes.New(haltypes.BadFormat, "%s: too small for a superblock", path)
	}
	m, err := mmap.Map(f, prot, 0)
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "map %s", path)
	}
	a := &Arena{
		path:     path,
		f:        f,
		m:        m,
		writable: writable,
		mapped:   fi.Size(),
		maxSize:  opts.MaxSize,
	}
	if string(a.m[:8]) != Magic {
		a.release()
		return nil, haltypes.New(haltypes.BadFormat, "%s: bad magic", path)
	}
	if v := binary.LittleEndian.Uint32(a.m[8:]); v != formatVersion {
		a.release()
		return nil, haltypes.New(haltypes.BadFormat, "%s: unsupported version %d", path, v)
	}
	a.watermark = int64(binary.LittleEndian.Uint64(a.m[watermarkField:]))
	if a.watermark < superblockSize || a.watermark > a.mapped {
		a.release()
		return nil, haltypes.New(haltypes.CorruptAlignment, "%s: watermark %d outside file of %d bytes", path, a.watermark, a.mapped)
	}
	return a, nil
}

func (a *Arena) storeWatermark() {
	binary.LittleEndian.PutUint64(a.m[watermarkField:], uint64(a.watermark))
}

// RootOffset returns the offset of the root-genome header, 0 if unset.
func (a *Arena) RootOffset() int64 {
	return int64(binary.LittleEndian.Uint64(a.m[rootOffsetField:]))
}

// SetRootOffset records the root-genome header's offset in the superblock.
func (a *Arena) SetRootOffset(off int64) error {
	if !a.writable {
		return haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.path)
	}
	binary.LittleEndian.PutUint64(a.m[rootOffsetField:], uint64(off))
	return nil
}

// AllocateNewArray returns the current watermark and advances it by nBytes,
// growing the mapping geometrically when needed. The returned region reads
// as zeroes.
func (a *Arena) AllocateNewArray(nBytes int64) (int64, error) {
	if !a.writable {
		return 0, haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.path)
	}
	if nBytes < 0 {
		return 0, haltypes.New(haltypes.PreconditionViolated, "%s: negative allocation %d", a.path, nBytes)
	}
	if a.watermark+nBytes > a.mapped {
		newSize := a.mapped
		for a.watermark+nBytes > newSize {
			newSize *= 2
		}
		if newSize > a.maxSize {
			return 0, haltypes.New(haltypes.OutOfSpace,
				"%s: growth to %d bytes exceeds configured maximum %d", a.path, newSize, a.maxSize)
		}
		if err := a.remap(newSize); err != nil {
			return 0, err
		}
	}
	off := a.watermark
	a.watermark += nBytes
	a.storeWatermark()
	return off, nil
}

func (a *Arena) remap(newSize int64) error {
	if err := a.m.Flush(); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "flush %s", a.path)
	}
	if err := a.m.Unmap(); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "unmap %s", a.path)
	}
	if err := a.f.Truncate(newSize); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "grow %s to %d", a.path, newSize)
	}
	m, err := mmap.Map(a.f, mmap.RDWR, 0)
	if err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "remap %s", a.path)
	}
	vlog.VI(1).Infof("mmaparena: grew %s from %d to %d bytes", a.path, a.mapped, newSize)
	a.m = m
	a.mapped = newSize
	return nil
}

// Bytes returns the n-byte region at off. The slice aliases the mapping and
// must not be retained across an AllocateNewArray call, which may remap.
func (a *Arena) Bytes(off, n int64) ([]byte, error) {
	if off < superblockSize || n < 0 || off+n > a.watermark {
		return nil, haltypes.New(haltypes.OutOfRange,
			"%s: region [%d,%d) outside arena [%d,%d)", a.path, off, off+n, superblockSize, a.watermark)
	}
	return a.m[off : off+n], nil
}

// U64 reads the u64 field at off.
func (a *Arena) U64(off int64) (uint64, error) {
	b, err := a.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutU64 writes the u64 field at off.
func (a *Arena) PutU64(off int64, v uint64) error {
	if !a.writable {
		return haltypes.New(haltypes.NotWritable, "%s: opened read-only", a.path)
	}
	b, err := a.Bytes(off, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// AllocateString copies s into a fresh region and returns its offset.
func (a *Arena) AllocateString(s string) (int64, error) {
	off, err := a.AllocateNewArray(int64(len(s)))
	if err != nil {
		return 0, err
	}
	b, err := a.Bytes(off, int64(len(s)))
	if err != nil {
		return 0, err
	}
	copy(b, s)
	return off, nil
}

// String reads the n-byte string at off.
func (a *Arena) String(off, n int64) (string, error) {
	b, err := a.Bytes(off, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Writable reports whether mutations are allowed.
func (a *Arena) Writable() bool { return a.writable }

// Path returns the backing file's path.
func (a *Arena) Path() string { return a.path }

// Flush msyncs the mapping.
func (a *Arena) Flush() error {
	if !a.writable {
		return nil
	}
	if err := a.m.Flush(); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "flush %s", a.path)
	}
	return nil
}

func (a *Arena) release() {
	a.m.Unmap() // nolint: errcheck
	a.f.Close() // nolint: errcheck
}

// Close flushes (when writable), truncates the file down to the watermark so
// unused growth is returned, unmaps, and closes.
func (a *Arena) Close() error {
	if a.writable {
		a.storeWatermark()
		if err := a.m.Flush(); err != nil {
			return haltypes.Wrap(err, haltypes.IoFailure, "flush %s", a.path)
		}
	}
	end := a.watermark
	if err := a.m.Unmap(); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "unmap %s", a.path)
	}
	if a.writable {
		if err := a.f.Truncate(end); err != nil {
			return haltypes.Wrap(err, haltypes.IoFailure, "trim %s", a.path)
		}
	}
	return a.f.Close()
}
