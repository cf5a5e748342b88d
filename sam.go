// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hal

import (
	"github.com/biogo/hts/sam"

	"github.com/halkit/hal/alignment"
	"github.com/halkit/hal/haltypes"
)

// References exports a genome's sequences as sam.Reference records, the
// name/length shape downstream genomic tooling expects when intersecting
// alignment coordinates with read data.
func References(g alignment.Genome) ([]*sam.Reference, error) {
	names := g.SequenceNames()
	refs := make([]*sam.Reference, 0, len(names))
	for _, name := range names {
		seq, err := g.Sequence(name)
		if err != nil {
			return nil, err
		}
		ref, err := sam.NewReference(seq.Name(), "", "", int(seq.Length()), nil, nil)
		if err != nil {
			return nil, haltypes.Wrap(err, haltypes.PreconditionViolated, "genome %s: sequence %s", g.Name(), name)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
