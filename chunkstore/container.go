// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package chunkstore implements the hdf5-like backend: an hierarchical
// container of named, typed, fixed-stride datasets, each persisted as a
// sequence of independently compressed chunks with a bounded write-back
// chunk cache. Groups are encoded in dataset names ("/<genome>/TOP_ARRAY"),
// the way the original format lays out one group per genome.
package chunkstore

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"os"

	"blainsmith.com/go/seahash"
	"github.com/golang/snappy"
	kflate "github.com/klauspost/compress/flate"
	"v.io/x/lib/vlog"

	"github.com/halkit/hal/blob"
	"github.com/halkit/hal/haltypes"
)

// Signature is the container's magic: the HDF5 file signature, so format
// autodetection recognizes these files the same way the original tooling
// does.
const Signature = "\x89HDF\r\n\x1a\n"

const containerVersion = 1

// Chunk codecs. The codec is chosen per dataset at creation and recorded in
// the directory.
const (
	CodecRaw     = byte(0)
	CodecDeflate = byte(1)
	CodecSnappy  = byte(2)
)

// header layout: signature (8) | u32 version | u64 directory offset.
const headerSize = 8 + 4 + 8

type chunkRef struct {
	offset int64 // 0 means never written: the chunk reads as zeroes
	size   int64 // stored (compressed) size
	sum    uint64
}

type dataset struct {
	name       string
	elemSize   int
	totalElems int64
	chunkElems int
	codec      byte
	level      int
	chunks     []chunkRef
}

func (d *dataset) numChunks() int {
	if d.totalElems == 0 {
		return 0
	}
	per := int64(d.chunkElems)
	return int((d.totalElems + per - 1) / per)
}

// chunkByteLen returns the uncompressed byte length of chunk i (the last
// chunk of a dataset may be short).
func (d *dataset) chunkByteLen(i int) int {
	elems := int64(d.chunkElems)
	if int64(i) == int64(d.numChunks()-1) {
		if rem := d.totalElems % int64(d.chunkElems); rem != 0 {
			elems = rem
		}
	}
	return int(elems) * d.elemSize
}

// Container is one open hdf5-like file. Writable containers append chunk
// data as arrays flush and write the dataset directory on Close; read-only
// containers bind to an existing directory through a blob.Reader.
type Container struct {
	path     string
	writable bool
	f        *os.File    // non-nil iff writable
	r        blob.Reader // read path; for writable containers reads go to f
	end      int64       // append position (writable)
	datasets map[string]*dataset
	order    []string // directory order = creation order
}

// CreateContainer creates a new container file at path, truncating any
// existing file.
func CreateContainer(path string) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "create %s", path)
	}
	hdr := make([]byte, headerSize)
	copy(hdr, Signature)
	binary.LittleEndian.PutUint32(hdr[8:], containerVersion)
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close() // nolint: errcheck
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "write header %s", path)
	}
	return &Container{
		path:     path,
		writable: true,
		f:        f,
		end:      headerSize,
		datasets: make(map[string]*dataset),
	}, nil
}

// OpenContainer binds to an existing container through r. The caller has
// already matched the signature during format autodetection; it is
// re-checked here so a direct open fails the same way.
func OpenContainer(path string, r blob.Reader) (*Container, error) {
	c := &Container{path: path, r: r, datasets: make(map[string]*dataset)}
	if err := c.readDirectory(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) readDirectory() error {
	hdr := make([]byte, headerSize)
	if _, err := c.r.ReadAt(hdr, 0); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "read header %s", c.path)
	}
	if string(hdr[:8]) != Signature {
		return haltypes.New(haltypes.BadFormat, "%s: not an hdf5-like container", c.path)
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != containerVersion {
		return haltypes.New(haltypes.BadFormat, "%s: unsupported container version %d", c.path, v)
	}
	dirOff := int64(binary.LittleEndian.Uint64(hdr[12:]))
	if dirOff == 0 {
		return haltypes.New(haltypes.BadFormat, "%s: container was never finalized", c.path)
	}
	size, err := c.r.Size()
	if err != nil {
		return err
	}
	dir := make([]byte, size-dirOff)
	if _, err := c.r.ReadAt(dir, dirOff); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "read directory %s", c.path)
	}
	return c.decodeDirectory(dir)
}

func (c *Container) decodeDirectory(dir []byte) error {
	rd := bytes.NewReader(dir)
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return haltypes.Wrap(err, haltypes.BadFormat, "%s: truncated directory", c.path)
	}
	for i := uint32(0); i < n; i++ {
		ds, err := decodeDataset(rd)
		if err != nil {
			return haltypes.Wrap(err, haltypes.BadFormat, "%s: dataset %d", c.path, i)
		}
		c.datasets[ds.name] = ds
		c.order = append(c.order, ds.name)
	}
	return nil
}

func decodeDataset(rd *bytes.Reader) (*dataset, error) {
	name, err := readString16(rd)
	if err != nil {
		return nil, err
	}
	var fixed struct {
		ElemSize   uint32
		TotalElems uint64
		ChunkElems uint32
		Codec      uint8
		Level      uint8
		NumChunks  uint32
	}
	if err := binary.Read(rd, binary.LittleEndian, &fixed); err != nil {
		return nil, err
	}
	ds := &dataset{
		name:       name,
		elemSize:   int(fixed.ElemSize),
		totalElems: int64(fixed.TotalElems),
		chunkElems: int(fixed.ChunkElems),
		codec:      fixed.Codec,
		level:      int(fixed.Level),
		chunks:     make([]chunkRef, fixed.NumChunks),
	}
	for j := range ds.chunks {
		var ref struct{ Offset, Size, Sum uint64 }
		if err := binary.Read(rd, binary.LittleEndian, &ref); err != nil {
			return nil, err
		}
		ds.chunks[j] = chunkRef{offset: int64(ref.Offset), size: int64(ref.Size), sum: ref.Sum}
	}
	return ds, nil
}

func (c *Container) encodeDirectory() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(c.order))) // nolint: errcheck
	for _, name := range c.order {
		ds := c.datasets[name]
		writeString16(&buf, ds.name)
		binary.Write(&buf, binary.LittleEndian, struct { // nolint: errcheck
			ElemSize   uint32
			TotalElems uint64
			ChunkElems uint32
			Codec      uint8
			Level      uint8
			NumChunks  uint32
		}{uint32(ds.elemSize), uint64(ds.totalElems), uint32(ds.chunkElems), ds.codec, uint8(ds.level), uint32(len(ds.chunks))})
		for _, ref := range ds.chunks {
			binary.Write(&buf, binary.LittleEndian, struct{ Offset, Size, Sum uint64 }{ // nolint: errcheck
				uint64(ref.offset), uint64(ref.size), ref.sum,
			})
		}
	}
	return buf.Bytes()
}

// createDataset reserves a dataset. Its chunks read as zeroes until written.
func (c *Container) createDataset(name string, elemSize int, totalElems int64, chunkElems int, codec byte, level int) (*dataset, error) {
	if !c.writable {
		return nil, haltypes.New(haltypes.NotWritable, "%s: container opened read-only", c.path)
	}
	if _, ok := c.datasets[name]; ok {
		return nil, haltypes.New(haltypes.PreconditionViolated, "%s: dataset %s already exists", c.path, name)
	}
	ds := &dataset{
		name:       name,
		elemSize:   elemSize,
		totalElems: totalElems,
		chunkElems: chunkElems,
		codec:      codec,
		level:      level,
	}
	ds.chunks = make([]chunkRef, ds.numChunks())
	c.datasets[name] = ds
	c.order = append(c.order, name)
	return ds, nil
}

// unlinkDataset removes a dataset from the directory. Its chunk bytes become
// dead space in the file; only the directory entry goes away.
func (c *Container) unlinkDataset(name string) {
	if _, ok := c.datasets[name]; !ok {
		return
	}
	delete(c.datasets, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Container) lookupDataset(name string) (*dataset, error) {
	ds, ok := c.datasets[name]
	if !ok {
		return nil, haltypes.New(haltypes.NotFound, "%s: no dataset %s", c.path, name)
	}
	return ds, nil
}

// appendChunk compresses raw with the dataset's codec and appends the stored
// bytes, updating the chunk's directory entry. Rewritten chunks always land
// at the end of the file (compressed sizes change); the old bytes are dead
// space until the file is rewritten by an external repack tool.
func (c *Container) appendChunk(ds *dataset, idx int, raw []byte) error {
	if !c.writable {
		return haltypes.New(haltypes.NotWritable, "%s: container opened read-only", c.path)
	}
	stored, err := encodeChunk(ds, raw)
	if err != nil {
		return err
	}
	if _, err := c.f.WriteAt(stored, c.end); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "%s: write chunk %d of %s", c.path, idx, ds.name)
	}
	ds.chunks[idx] = chunkRef{offset: c.end, size: int64(len(stored)), sum: seahash.Sum64(stored)}
	c.end += int64(len(stored))
	return nil
}

// readChunk returns chunk idx's uncompressed bytes. A never-written chunk
// reads as zeroes.
func (c *Container) readChunk(ds *dataset, idx int) ([]byte, error) {
	rawLen := ds.chunkByteLen(idx)
	ref := ds.chunks[idx]
	if ref.offset == 0 {
		return make([]byte, rawLen), nil
	}
	stored := make([]byte, ref.size)
	var err error
	if c.writable {
		_, err = c.f.ReadAt(stored, ref.offset)
	} else {
		_, err = c.r.ReadAt(stored, ref.offset)
	}
	if err != nil && err != io.EOF {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "%s: read chunk %d of %s", c.path, idx, ds.name)
	}
	if sum := seahash.Sum64(stored); sum != ref.sum {
		return nil, haltypes.New(haltypes.CorruptAlignment,
			"%s: checksum mismatch on chunk %d of %s (stored %x, computed %x)", c.path, idx, ds.name, ref.sum, sum)
	}
	return decodeChunk(ds, stored, rawLen)
}

func encodeChunk(ds *dataset, raw []byte) ([]byte, error) {
	switch ds.codec {
	case CodecRaw:
		return raw, nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	case CodecDeflate:
		var buf bytes.Buffer
		w, err := kflate.NewWriter(&buf, ds.level)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.PreconditionViolated, "deflate level %d", ds.level)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, haltypes.Wrap(err, haltypes.IoFailure, "deflate %s", ds.name)
		}
		if err := w.Close(); err != nil {
			return nil, haltypes.Wrap(err, haltypes.IoFailure, "deflate %s", ds.name)
		}
		return buf.Bytes(), nil
	default:
		return nil, haltypes.New(haltypes.BadFormat, "unknown codec %d on %s", ds.codec, ds.name)
	}
}

func decodeChunk(ds *dataset, stored []byte, rawLen int) ([]byte, error) {
	switch ds.codec {
	case CodecRaw:
		return stored, nil
	case CodecSnappy:
		raw, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "snappy chunk of %s", ds.name)
		}
		return raw, nil
	case CodecDeflate:
		raw := make([]byte, rawLen)
		rd := flate.NewReader(bytes.NewReader(stored))
		if _, err := io.ReadFull(rd, raw); err != nil {
			return nil, haltypes.Wrap(err, haltypes.CorruptAlignment, "deflate chunk of %s", ds.name)
		}
		return raw, rd.Close()
	default:
		return nil, haltypes.New(haltypes.BadFormat, "unknown codec %d on %s", ds.codec, ds.name)
	}
}

// PutBlob stores a small one-chunk byte dataset (metadata tables, the genome
// tree). Re-putting an existing name replaces its contents.
func (c *Container) PutBlob(name string, data []byte) error {
	c.unlinkDataset(name)
	chunkElems := len(data)
	if chunkElems == 0 {
		chunkElems = 1
	}
	ds, err := c.createDataset(name, 1, int64(len(data)), chunkElems, CodecDeflate, 2)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return c.appendChunk(ds, 0, data)
}

// GetBlob reads a dataset stored by PutBlob.
func (c *Container) GetBlob(name string) ([]byte, error) {
	ds, err := c.lookupDataset(name)
	if err != nil {
		return nil, err
	}
	if ds.totalElems == 0 {
		return nil, nil
	}
	return c.readChunk(ds, 0)
}

// HasDataset reports whether name exists in the directory.
func (c *Container) HasDataset(name string) bool {
	_, ok := c.datasets[name]
	return ok
}

// Finalize writes the dataset directory and patches the header to point at
// it. Called exactly once, from Alignment.Close, after all arrays flushed.
func (c *Container) Finalize() error {
	if !c.writable {
		return nil
	}
	dir := c.encodeDirectory()
	dirOff := c.end
	if _, err := c.f.WriteAt(dir, dirOff); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "write directory %s", c.path)
	}
	c.end += int64(len(dir))
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(dirOff))
	if _, err := c.f.WriteAt(off[:], 12); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "patch header %s", c.path)
	}
	if err := c.f.Sync(); err != nil {
		return haltypes.Wrap(err, haltypes.IoFailure, "sync %s", c.path)
	}
	vlog.VI(1).Infof("chunkstore: finalized %s, %d datasets, %d bytes", c.path, len(c.order), c.end)
	return nil
}

// Close releases the file handle or blob reader. Writable containers must be
// Finalized first.
func (c *Container) Close() error {
	if c.writable {
		return c.f.Close()
	}
	return c.r.Close()
}

func readString16(rd *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString16(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s))) // nolint: errcheck
	buf.WriteString(s)
}
