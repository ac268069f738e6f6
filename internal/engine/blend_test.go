package engine

import (
	"context"
	"testing"

	"rotarr/pkg/logx"
)

func refs(ids ...string) []ContentRef {
	out := make([]ContentRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, ContentRef{ID: id})
	}
	return out
}

type seqMap map[string]Sequence

func (m seqMap) GetSequence(_ context.Context, id string) (Sequence, bool, error) {
	s, ok := m[id]
	return s, ok, nil
}

func TestMergeInterleavesRoundRobin(t *testing.T) {
	t.Parallel()
	b := NewBlender(NewPickerSeeded(1), logx.Nop())

	cats := map[string]Category{
		"xmas": {ID: "xmas", Items: refs("x1", "x2", "x3")},
		"ny":   {ID: "ny", Items: refs("n1", "n2", "n3")},
	}
	group := []Schedule{
		{ID: "s2", CategoryID: "ny"},
		{ID: "s1", CategoryID: "xmas"},
	}

	sel := b.Merge(context.Background(), group, cats, seqMap{})
	if sel.Kind != SelectionApply {
		t.Fatalf("kind = %s, want apply", sel.Kind)
	}
	if sel.Mode != ModeRandom {
		t.Fatalf("mode = %s, want random (pick-one hint)", sel.Mode)
	}
	if len(sel.Items) != 6 {
		t.Fatalf("items = %d, want all 6 (both pools fully consumed)", len(sel.Items))
	}

	// Members are processed in ascending id order, so positions alternate
	// xmas, ny, xmas, ny, ...
	fromXmas := map[string]bool{"x1": true, "x2": true, "x3": true}
	for i, it := range sel.Items {
		wantXmas := i%2 == 0
		if fromXmas[it.ID] != wantXmas {
			t.Fatalf("item %d (%s) breaks round-robin interleaving: %v", i, it.ID, sel.Items)
		}
	}
}

func TestMergeSamplesAtMostThreePerCategory(t *testing.T) {
	t.Parallel()
	b := NewBlender(NewPickerSeeded(7), logx.Nop())

	cats := map[string]Category{
		"big":   {ID: "big", Items: refs("a", "b", "c", "d", "e", "f", "g")},
		"small": {ID: "small", Items: refs("s1")},
	}
	group := []Schedule{
		{ID: "s1", CategoryID: "big"},
		{ID: "s2", CategoryID: "small"},
	}

	sel := b.Merge(context.Background(), group, cats, seqMap{})
	if len(sel.Items) != 4 {
		t.Fatalf("items = %d, want 3 sampled + 1: %v", len(sel.Items), sel.Items)
	}
	seen := map[string]bool{}
	for _, it := range sel.Items {
		if seen[it.ID] {
			t.Fatalf("duplicate item %s in blend output", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestMergeSequenceMemberUsesBoundedBlock(t *testing.T) {
	t.Parallel()
	b := NewBlender(NewPickerSeeded(3), logx.Nop())

	seqs := seqMap{
		"promo": {ID: "promo", Items: refs("p1", "p2", "p3", "p4", "p5"), BlockSize: 2},
	}
	cats := map[string]Category{
		"cat": {ID: "cat", Items: refs("c1")},
	}
	group := []Schedule{
		{ID: "s1", SequenceID: "promo"},
		{ID: "s2", CategoryID: "cat"},
	}

	sel := b.Merge(context.Background(), group, cats, seqs)
	if len(sel.Items) != 3 {
		t.Fatalf("items = %d, want 2-item block + 1: %v", len(sel.Items), sel.Items)
	}
}

func TestMergeSkipsUnresolvableMembers(t *testing.T) {
	t.Parallel()
	b := NewBlender(NewPickerSeeded(1), logx.Nop())

	cats := map[string]Category{
		"ok": {ID: "ok", Items: refs("a", "b")},
	}
	group := []Schedule{
		{ID: "s1", CategoryID: "ok"},
		{ID: "s2", CategoryID: "ghost"},
	}
	sel := b.Merge(context.Background(), group, cats, seqMap{})
	if len(sel.Items) != 2 {
		t.Fatalf("items = %d, want only the resolvable member's pool", len(sel.Items))
	}

	empty := b.Merge(context.Background(), []Schedule{{ID: "s2", CategoryID: "ghost"}, {ID: "s3", CategoryID: "ghost2"}}, cats, seqMap{})
	if empty.Kind != SelectionNoop {
		t.Fatalf("kind = %s, want noop when no member resolves", empty.Kind)
	}
}

func TestCategoryPoolStrategies(t *testing.T) {
	t.Parallel()
	p := NewPickerSeeded(99)

	seqCat := Category{ID: "c", Strategy: StrategySequential, Items: refs("a", "b", "c")}
	items, mode := p.CategoryPool(seqCat)
	if mode != ModeSequential {
		t.Fatalf("sequential mode = %s", mode)
	}
	for i, want := range []string{"a", "b", "c"} {
		if items[i].ID != want {
			t.Fatalf("sequential order broken: %v", items)
		}
	}

	shufCat := Category{ID: "c", Strategy: StrategyShuffle, Items: refs("a", "b", "c", "d", "e")}
	items, mode = p.CategoryPool(shufCat)
	if mode != ModeRandom {
		t.Fatalf("shuffle mode = %s", mode)
	}
	if len(items) != 5 {
		t.Fatalf("shuffle must keep all items, got %v", items)
	}
	// The original slice must not be mutated.
	if shufCat.Items[0].ID != "a" || shufCat.Items[4].ID != "e" {
		t.Fatalf("CategoryPool mutated the category: %v", shufCat.Items)
	}
}

func TestSequenceBlockBounds(t *testing.T) {
	t.Parallel()
	p := NewPickerSeeded(5)

	seq := Sequence{ID: "s", Items: refs("a", "b", "c", "d", "e"), BlockSize: 3}
	for i := 0; i < 20; i++ {
		block := p.SequenceBlock(seq)
		if len(block) != 3 {
			t.Fatalf("block size = %d, want 3", len(block))
		}
		// Block must be contiguous in the stored order.
		first := block[0].ID[0] - 'a'
		for j, it := range block {
			if it.ID[0]-'a' != first+byte(j) {
				t.Fatalf("block not contiguous: %v", block)
			}
		}
	}

	whole := p.SequenceBlock(Sequence{ID: "s", Items: refs("a", "b")})
	if len(whole) != 2 {
		t.Fatalf("zero block size must return the whole list, got %v", whole)
	}
	if got := p.SequenceBlock(Sequence{ID: "empty"}); got != nil {
		t.Fatalf("empty sequence must resolve to nil, got %v", got)
	}
}

func TestFallbackArming(t *testing.T) {
	t.Parallel()
	withFallback := &Schedule{ID: "a", FallbackCategoryID: "cat1"}
	without := &Schedule{ID: "b"}

	if got := NextArmed("", withFallback); got != "cat1" {
		t.Fatalf("armed = %q, want cat1", got)
	}
	// A new winner always rewrites the slot, even to empty: the armed value
	// derives from the most recently active schedule only.
	if got := NextArmed("cat1", without); got != "" {
		t.Fatalf("armed = %q, want cleared by fallback-less winner", got)
	}
	// No winner keeps the slot as is.
	if got := NextArmed("cat1", nil); got != "cat1" {
		t.Fatalf("armed = %q, want retained", got)
	}
}
