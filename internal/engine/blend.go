package engine

import (
	"context"
	"sort"

	"rotarr/pkg/logx"
)

// Blender merges the content pools of a blend group into one selection.
type Blender struct {
	picker *Picker
	log    logx.Logger
}

func NewBlender(picker *Picker, log logx.Logger) *Blender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Blender{picker: picker, log: log}
}

// Merge resolves each member's pool and interleaves them round-robin into one
// ordered list. Members are processed in ascending id order so the result is
// stable for a given group and picker state.
//
// The output carries Mode=random: the product semantics of a blend are "one
// random pick from the combined pool", not "play everything in order"; the
// mode is the hint that lets the applier select that playback behavior.
func (b *Blender) Merge(ctx context.Context, group []Schedule, cats map[string]Category, seqs SequenceLookup) Selection {
	members := append([]Schedule(nil), group...)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	pools := make([][]ContentRef, 0, len(members))
	for _, m := range members {
		pool := b.memberPool(ctx, m, cats, seqs)
		if len(pool) == 0 {
			continue
		}
		pools = append(pools, pool)
	}

	items := interleave(pools)
	if len(items) == 0 {
		return Noop()
	}
	return Selection{Kind: SelectionApply, Items: items, Mode: ModeRandom}
}

// memberPool resolves one blend member's contribution: up to three random
// items from its category, or the sequence's own bounded random block.
func (b *Blender) memberPool(ctx context.Context, m Schedule, cats map[string]Category, seqs SequenceLookup) []ContentRef {
	if m.SequenceID != "" {
		seq, ok, err := seqs.GetSequence(ctx, m.SequenceID)
		if err != nil || !ok {
			b.log.Warn("blend member sequence unavailable",
				logx.String("schedule", m.ID), logx.String("sequence", m.SequenceID), logx.Err(err))
			return nil
		}
		return b.picker.SequenceBlock(seq)
	}
	cat, ok := cats[m.CategoryID]
	if !ok {
		b.log.Warn("blend member category missing",
			logx.String("schedule", m.ID), logx.String("category", m.CategoryID))
		return nil
	}
	return b.picker.Sample(cat.Items, blendSampleSize)
}

// SequenceLookup is the slice of Store the blender and filler need.
type SequenceLookup interface {
	GetSequence(ctx context.Context, id string) (Sequence, bool, error)
}

// interleave merges pools round-robin (one item from each pool per pass)
// until every pool is exhausted.
func interleave(pools [][]ContentRef) []ContentRef {
	total := 0
	for _, p := range pools {
		total += len(p)
	}
	out := make([]ContentRef, 0, total)
	for i := 0; len(out) < total; i++ {
		for _, p := range pools {
			if i < len(p) {
				out = append(out, p[i])
			}
		}
	}
	return out
}
