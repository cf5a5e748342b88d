// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blob abstracts the byte source a HAL file is read from: a local
// file or a cached remote fetch. The chunked backend reads through this seam
// so that URL/cache fetching — explicitly out of scope for the core — can be
// supplied by an external collaborator; the mmap backend opens and maps its
// file directly instead.
package blob

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/halkit/hal/haltypes"
)

// Reader is the abstract byte source. Implementations must be safe for
// concurrent ReadAt calls from multiple goroutines (iterators never mutate
// it), matching the read concurrency model in section 5 of the spec.
type Reader interface {
	// ReadAt reads len(p) bytes starting at off, the same contract as
	// io.ReaderAt.
	ReadAt(p []byte, off int64) (int, error)
	// Size returns the total number of bytes available.
	Size() (int64, error)
	// Close releases any resources (file handles, cache entries).
	Close() error
}

// PeekMagic reads the first n bytes of path without otherwise opening it, the
// operation the façade's format autodetection needs (section 4.12). It
// treats an EOF before n bytes as a short read, not an error, since a truthful
// magic mismatch is a BadFormat, not an IoFailure.
func PeekMagic(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "open %s", path)
	}
	defer f.Close() // nolint: errcheck

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "peek %s", path)
	}
	return buf[:read], nil
}

// LocalFile opens path as a Reader backed directly by the local filesystem.
func LocalFile(path string, writable bool) (Reader, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, haltypes.Wrap(err, haltypes.NotFound, "open %s", path)
		}
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "open %s", path)
	}
	return &localFile{f: f}, nil
}

type localFile struct {
	f *os.File
}

func (l *localFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := l.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, haltypes.Wrap(err, haltypes.IoFailure, "read %s", l.f.Name())
	}
	return n, err
}

func (l *localFile) Size() (int64, error) {
	fi, err := l.f.Stat()
	if err != nil {
		return 0, haltypes.Wrap(err, haltypes.IoFailure, "stat %s", l.f.Name())
	}
	return fi.Size(), nil
}

func (l *localFile) Close() error {
	if err := l.f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", l.f.Name())
	}
	return nil
}

// File exposes the underlying *os.File for callers that need direct
// file-descriptor access (mmap, truncate, sync). It panics
// if r was not created by LocalFile — callers only use it on readers they
// know are local.
func File(r Reader) *os.File {
	lf, ok := r.(*localFile)
	if !ok {
		panic("blob: File called on a non-local Reader")
	}
	return lf.f
}
