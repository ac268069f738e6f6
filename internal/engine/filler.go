package engine

import (
	"context"

	"rotarr/pkg/logx"
)

// FillerSelector resolves the global last-resort content source.
//
// It is consulted only when nothing else applies this tick: no winner or
// blend group, and the armed fallback slot is empty.
type FillerSelector struct {
	picker *Picker
	log    logx.Logger
}

func NewFillerSelector(picker *Picker, log logx.Logger) *FillerSelector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FillerSelector{picker: picker, log: log}
}

// Select resolves the filler into a selection. ok is false when filler is
// disabled or its target cannot be resolved; the caller then decides between
// an explicit clear and a no-op.
func (f *FillerSelector) Select(ctx context.Context, filler FillerConfig, cats map[string]Category, seqs SequenceLookup) (Selection, bool) {
	if !filler.Enabled {
		return Noop(), false
	}

	switch filler.Kind {
	case FillerCategory:
		cat, ok := cats[filler.TargetID]
		if !ok {
			f.log.Warn("filler category missing", logx.String("category", filler.TargetID))
			return Noop(), false
		}
		items, mode := f.picker.CategoryPool(cat)
		if len(items) == 0 {
			return Noop(), false
		}
		return Selection{Kind: SelectionApply, Items: items, Mode: mode}, true

	case FillerSequence:
		seq, ok, err := seqs.GetSequence(ctx, filler.TargetID)
		if err != nil || !ok {
			f.log.Warn("filler sequence unavailable", logx.String("sequence", filler.TargetID), logx.Err(err))
			return Noop(), false
		}
		items := f.picker.SequenceBlock(seq)
		if len(items) == 0 {
			return Noop(), false
		}
		return Selection{Kind: SelectionApply, Items: items, Mode: ModeSequential}, true

	case FillerGenerated:
		// The generated list is produced by an external collaborator; the
		// engine only forwards the opaque pointer.
		if filler.TargetID == "" {
			return Noop(), false
		}
		return Selection{
			Kind:  SelectionApply,
			Items: []ContentRef{{ID: filler.TargetID}},
			Mode:  ModeRandom,
		}, true

	default:
		f.log.Warn("unknown filler kind", logx.String("kind", string(filler.Kind)))
		return Noop(), false
	}
}
