package engine

import (
	"math/rand"
	"sync"
	"time"
)

// blendSampleSize caps how many items each blend member contributes.
const blendSampleSize = 3

// Picker owns the engine's randomness so tests can seed it deterministically.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPicker() *Picker {
	return NewPickerSeeded(time.Now().UnixNano())
}

func NewPickerSeeded(seed int64) *Picker {
	return &Picker{rng: rand.New(rand.NewSource(seed))}
}

// CategoryPool resolves a category into a playback pool per its strategy.
//
//   - shuffle: randomized copy, platform picks at random
//   - sequential: stored order, played in sequence
//   - fixed: stored order, played in sequence
func (p *Picker) CategoryPool(c Category) ([]ContentRef, PlaybackMode) {
	switch c.Strategy {
	case StrategyShuffle:
		items := append([]ContentRef(nil), c.Items...)
		p.mu.Lock()
		p.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		p.mu.Unlock()
		return items, ModeRandom
	case StrategySequential, StrategyFixed:
		return append([]ContentRef(nil), c.Items...), ModeSequential
	default:
		// Unknown strategy: keep the stored order rather than dropping content.
		return append([]ContentRef(nil), c.Items...), ModeSequential
	}
}

// Sample returns up to n distinct items chosen at random, preserving no
// particular order. Used for blend member contributions.
func (p *Picker) Sample(items []ContentRef, n int) []ContentRef {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if len(items) <= n {
		return append([]ContentRef(nil), items...)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	p.mu.Lock()
	p.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	p.mu.Unlock()
	out := make([]ContentRef, 0, n)
	for _, i := range idx[:n] {
		out = append(out, items[i])
	}
	return out
}

// SequenceBlock resolves a saved sequence: a random contiguous block of up to
// BlockSize items (the whole list when BlockSize is 0 or covers it).
func (p *Picker) SequenceBlock(seq Sequence) []ContentRef {
	n := len(seq.Items)
	if n == 0 {
		return nil
	}
	size := seq.BlockSize
	if size <= 0 || size >= n {
		return append([]ContentRef(nil), seq.Items...)
	}
	p.mu.Lock()
	start := p.rng.Intn(n - size + 1)
	p.mu.Unlock()
	return append([]ContentRef(nil), seq.Items[start:start+size]...)
}
