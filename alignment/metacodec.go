// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alignment

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/halkit/hal/haltypes"
)

// EncodeStringMap serializes m deterministically (sorted by key) so a
// round-trip through either backend is byte-stable.
func EncodeStringMap(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(keys))) // nolint: errcheck
	for _, k := range keys {
		putString32(&buf, k)
		putString32(&buf, m[k])
	}
	return buf.Bytes()
}

// DecodeStringMap deserializes a map written by EncodeStringMap.
func DecodeStringMap(data []byte) (map[string]string, error) {
	m := make(map[string]string)
	if len(data) == 0 {
		return m, nil
	}
	rd := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return nil, haltypes.Wrap(err, haltypes.BadFormat, "truncated metadata table")
	}
	for i := uint32(0); i < n; i++ {
		k, err := getString32(rd)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.BadFormat, "metadata entry %d", i)
		}
		v, err := getString32(rd)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.BadFormat, "metadata entry %d", i)
		}
		m[k] = v
	}
	return m, nil
}

// EncodeSequenceTable serializes the per-genome sequence declarations in
// offset order.
func EncodeSequenceTable(seqs []SequenceInfo) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(seqs))) // nolint: errcheck
	for _, s := range seqs {
		putString32(&buf, s.Name)
		binary.Write(&buf, binary.LittleEndian, struct{ Length, NumTop, NumBottom uint64 }{ // nolint: errcheck
			uint64(s.Length), uint64(s.NumTop), uint64(s.NumBottom),
		})
	}
	return buf.Bytes()
}

// DecodeSequenceTable deserializes a table written by EncodeSequenceTable.
func DecodeSequenceTable(data []byte) ([]SequenceInfo, error) {
	rd := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return nil, haltypes.Wrap(err, haltypes.BadFormat, "truncated sequence table")
	}
	seqs := make([]SequenceInfo, n)
	for i := range seqs {
		name, err := getString32(rd)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.BadFormat, "sequence entry %d", i)
		}
		var fixed struct{ Length, NumTop, NumBottom uint64 }
		if err := binary.Read(rd, binary.LittleEndian, &fixed); err != nil {
			return nil, haltypes.Wrap(err, haltypes.BadFormat, "sequence entry %d", i)
		}
		seqs[i] = SequenceInfo{
			Name:      name,
			Length:    haltypes.Position(fixed.Length),
			NumTop:    int(fixed.NumTop),
			NumBottom: int(fixed.NumBottom),
		}
	}
	return seqs, nil
}

func putString32(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s))) // nolint: errcheck
	buf.WriteString(s)
}

func getString32(rd *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return "", err
	}
	return string(b), nil
}
