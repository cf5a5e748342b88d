// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lod implements the level-of-detail manager: an ordered map from
// minimum query length to alignment file, loaded from a text index, with
// lazy opens and a fall-back to the finest level when DNA is required.
package lod

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"v.io/x/lib/vlog"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// Opener opens one alignment file read-only. The façade supplies its Open;
// taking it as a parameter keeps this package off the backends' import
// graph.
type Opener func(path string) (alignment.Alignment, error)

type level struct {
	minLen    int64
	path      string
	alignment alignment.Alignment // nil until lazily opened
}

// Manager owns the per-level alignment handles and closes them all on
// Close.
type Manager struct {
	opener Opener
	levels []level // sorted by minLen ascending

	// coarsestWithDNA is the largest minLen whose file is known to carry
	// DNA, discovered as files open and raised monotonically.
	coarsestWithDNA int64
}

// LoadIndex reads a LOD index file: one `<minLen> <path>` entry per line,
// blank lines ignored, relative paths resolved against the index file's
// directory, URLs left untouched. An entry with minLen 0 must exist.
func LoadIndex(indexPath string, opener Opener) (*Manager, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "open %s", indexPath)
	}
	defer f.Close() // nolint: errcheck

	m := &Manager{opener: opener}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, haltypes.New(haltypes.BadFormat, "%s: line %d: want `<minLen> <path>`, got %q", indexPath, lineNum, line)
		}
		minLen, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || minLen < 0 {
			return nil, haltypes.New(haltypes.BadFormat, "%s: line %d: bad minimum query length %q", indexPath, lineNum, fields[0])
		}
		m.levels = append(m.levels, level{minLen: minLen, path: resolvePath(indexPath, fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, haltypes.Wrap(err, haltypes.IoFailure, "read %s", indexPath)
	}
	sort.SliceStable(m.levels, func(i, j int) bool { return m.levels[i].minLen < m.levels[j].minLen })
	if err := m.checkLevels(indexPath); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadSingleFile wraps one alignment file as the sole (finest) level.
func LoadSingleFile(halPath string, opener Opener) *Manager {
	return &Manager{opener: opener, levels: []level{{minLen: 0, path: halPath}}}
}

func (m *Manager) checkLevels(indexPath string) error {
	if len(m.levels) == 0 {
		return haltypes.New(haltypes.BadFormat, "%s: no entries", indexPath)
	}
	if m.levels[0].minLen != 0 {
		return haltypes.New(haltypes.BadFormat,
			"%s: no level with minimum query length 0; a `0 <path>` entry for the finest alignment must be present", indexPath)
	}
	return nil
}

// resolvePath resolves halPath against the index file's directory, leaving
// absolute paths and URLs untouched.
func resolvePath(indexPath, halPath string) string {
	if filepath.IsAbs(halPath) || strings.Contains(halPath, ":/") {
		return halPath
	}
	dir := filepath.Dir(indexPath)
	if dir == "." {
		return halPath
	}
	return filepath.Join(dir, halPath)
}

// Alignment selects the coarsest level whose minLen does not exceed
// queryLength, opening its file on first use. When needDNA is set and the
// chosen level is coarser than the coarsest level known to carry DNA, the
// finest (minLen 0) level is returned instead.
func (m *Manager) Alignment(queryLength int64, needDNA bool) (alignment.Alignment, error) {
	idx := sort.Search(len(m.levels), func(i int) bool { return m.levels[i].minLen > queryLength })
	if idx == 0 {
		return nil, haltypes.New(haltypes.PreconditionViolated, "no level for query length %d", queryLength)
	}
	idx--
	lvl := &m.levels[idx]
	if lvl.alignment == nil {
		a, err := m.opener(lvl.path)
		if err != nil {
			return nil, err
		}
		lvl.alignment = a
		if err := m.checkAlignment(lvl); err != nil {
			return nil, err
		}
		vlog.VI(1).Infof("lod: opened level %d (%s) for query length %d", lvl.minLen, lvl.path, queryLength)
	}
	if needDNA && m.coarsestWithDNA < lvl.minLen {
		return m.Alignment(0, true)
	}
	return lvl.alignment, nil
}

// checkAlignment runs once per lazily opened level: it requires a non-empty
// genome tree, walks it breadth-first looking for any genome with a DNA
// array, and raises the coarsest-with-DNA watermark when one is found. The
// finest level must carry DNA.
func (m *Manager) checkAlignment(lvl *level) error {
	a := lvl.alignment
	if a.RootName() == "" {
		return haltypes.New(haltypes.CorruptAlignment, "%s: no genomes in alignment", lvl.path)
	}
	seqFound := false
	queue := []string{a.RootName()}
	for len(queue) > 0 && !seqFound {
		name := queue[0]
		queue = queue[1:]
		g, err := a.Genome(name)
		if err != nil {
			return err
		}
		seqFound = g.ContainsDNAArray()
		for i := 0; i < g.NumChildren(); i++ {
			child, err := g.ChildName(i)
			if err != nil {
				return err
			}
			queue = append(queue, child)
		}
	}
	if !seqFound && lvl.minLen == 0 {
		return haltypes.New(haltypes.BadFormat,
			"%s: the finest level of detail must contain DNA sequence", lvl.path)
	}
	if seqFound && lvl.minLen > m.coarsestWithDNA {
		m.coarsestWithDNA = lvl.minLen
	}
	return nil
}

// Close releases every opened level. The manager owns all handles it
// opened; callers must not close them individually.
func (m *Manager) Close() error {
	var first error
	for i := range m.levels {
		if m.levels[i].alignment != nil {
			if err := m.levels[i].alignment.Close(); err != nil && first == nil {
				first = err
			}
			m.levels[i].alignment = nil
		}
	}
	return first
}
