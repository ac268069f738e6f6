package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"rotarr/internal/eventbus"
	"rotarr/pkg/logx"
)

// ErrBusy is returned by Tick when the previous tick's apply is still running.
var ErrBusy = errors.New("engine: tick already in flight")

// Config bounds the loop's external calls.
type Config struct {
	// ApplyTimeout bounds each Applier call. Default 15s.
	ApplyTimeout time.Duration
	// FailureLogEvery throttles repeated apply-failure error logs; suppressed
	// repeats are demoted to debug. Default 5m.
	FailureLogEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 15 * time.Second
	}
	if c.FailureLogEvery <= 0 {
		c.FailureLogEvery = 5 * time.Minute
	}
	return c
}

type Option func(*Loop)

func WithLogger(log logx.Logger) Option     { return func(l *Loop) { l.log = log } }
func WithBus(bus eventbus.Bus) Option       { return func(l *Loop) { l.bus = bus } }
func WithStateStore(ss StateStore) Option   { return func(l *Loop) { l.states = ss } }
func WithPicker(p *Picker) Option           { return func(l *Loop) { l.picker = p } }
func WithNow(now func() time.Time) Option   { return func(l *Loop) { l.now = now } }

// Loop is the periodic read-evaluate-apply driver. One dedicated worker owns
// the whole cycle; the only cross-tick state is the small State memo.
type Loop struct {
	cfg     Config
	store   Store
	states  StateStore
	applier Applier
	bus     eventbus.Bus
	log     logx.Logger

	eval    *Evaluator
	picker  *Picker
	blender *Blender
	filler  *FillerSelector

	now func() time.Time

	// busy guards against overlapping ticks: a due tick while the previous
	// apply is still in flight is skipped, never queued.
	busy atomic.Bool
	wg   sync.WaitGroup

	// current poll interval as observed by the last tick (nanoseconds).
	curInterval atomic.Int64

	// Tick-owned memos; the busy guard guarantees single-writer access.
	state      State
	lastLeader string
	lastFP     uint64
	lastSel    Selection
	haveSel    bool

	locName string
	loc     *time.Location

	failLimiter *rate.Limiter
}

func New(cfg Config, store Store, applier Applier, opts ...Option) *Loop {
	l := &Loop{
		cfg:     cfg.withDefaults(),
		store:   store,
		applier: applier,
		log:     logx.Nop(),
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, o := range opts {
		o(l)
	}
	if l.picker == nil {
		l.picker = NewPicker()
	}
	l.eval = NewEvaluator(l.log)
	l.blender = NewBlender(l.picker, l.log)
	l.filler = NewFillerSelector(l.picker, l.log)
	l.failLimiter = rate.NewLimiter(rate.Every(l.cfg.FailureLogEvery), 1)
	l.curInterval.Store(int64(DefaultPollInterval))
	return l
}

// State returns a copy of the engine memos (for host status surfaces).
func (l *Loop) State() State { return l.state }

// Run drives ticks until ctx is canceled. An in-flight apply is allowed to
// finish or time out; no further ticks fire afterwards.
func (l *Loop) Run(ctx context.Context) error {
	if l.states != nil {
		if st, ok, err := l.states.LoadState(ctx); err != nil {
			l.log.Warn("engine state restore failed; starting fresh", logx.Err(err))
		} else if ok {
			l.state = st
			l.log.Info("engine state restored",
				logx.String("armed_fallback", st.ArmedFallbackCategoryID))
		}
	}

	// First evaluation immediately; the ticker covers steady state.
	l.tickAsync(ctx)

	interval := time.Duration(l.curInterval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	l.log.Info("engine loop started", logx.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			l.log.Info("engine loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tickAsync(ctx)
			// Settings edits take effect on the next tick; pick up interval
			// changes the same way.
			if ni := time.Duration(l.curInterval.Load()); ni != interval && ni > 0 {
				interval = ni
				ticker.Reset(ni)
				l.log.Debug("poll interval changed", logx.Duration("interval", ni))
			}
		}
	}
}

func (l *Loop) tickAsync(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.log.Debug("tick skipped; previous apply still running")
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.busy.Store(false)
		if err := l.tick(ctx, l.now()); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Warn("tick failed; retrying next interval", logx.Err(err))
		}
	}()
}

// Tick runs one evaluate-resolve-apply cycle at the given instant. It exists
// so tests (and host tooling) can drive the engine deterministically.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.busy.Store(false)
	return l.tick(ctx, now)
}

func (l *Loop) tick(ctx context.Context, now time.Time) error {
	settings, err := l.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("settings snapshot: %w", err)
	}
	l.curInterval.Store(int64(settings.EffectivePollInterval()))

	schedules, err := l.store.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("schedule snapshot: %w", err)
	}
	cats, err := l.categories(ctx)
	if err != nil {
		return fmt.Errorf("category snapshot: %w", err)
	}
	seqs := newSeqCache(l.store)

	// The one local-time conversion boundary: everything below sees
	// wall-clock values in the configured zone.
	nowLocal := now.In(l.location(settings.Timezone))

	active := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		if l.eval.Active(s, nowLocal) {
			active = append(active, s)
		}
	}

	out := Resolve(active)
	leader := out.Leader()
	l.state.ArmedFallbackCategoryID = NextArmed(l.state.ArmedFallbackCategoryID, leader)

	fp, err := l.fingerprint(ctx, out, settings, cats, seqs)
	if err != nil {
		return fmt.Errorf("decision fingerprint: %w", err)
	}

	var sel Selection
	if l.haveSel && fp == l.lastFP {
		// Same decision inputs as last tick: reuse the resolved selection so
		// random pools are not re-rolled and the apply stays idempotent.
		sel = l.lastSel
	} else {
		sel = l.resolveSelection(ctx, out, settings, cats, seqs)
		l.lastFP = fp
		l.lastSel = sel
		l.haveSel = true
	}

	l.noteTransition(leader)

	if err := l.applySelection(ctx, sel); err != nil {
		return err
	}
	l.persistState(ctx)
	return nil
}

// resolveSelection turns the resolution outcome into the final selection,
// walking the full decision chain: winner/blend content, then armed fallback,
// then filler, then clear/no-op per settings.
func (l *Loop) resolveSelection(ctx context.Context, out Outcome, settings Settings, cats map[string]Category, seqs SequenceLookup) Selection {
	var sel Selection
	switch {
	case out.Winner != nil:
		sel = l.winnerSelection(ctx, *out.Winner, cats, seqs)
	case len(out.BlendGroup) > 0:
		sel = l.blender.Merge(ctx, out.BlendGroup, cats, seqs)
	default:
		sel = Noop()
	}
	if sel.Kind == SelectionApply && len(sel.Items) > 0 {
		return sel
	}
	if out.Leader() != nil {
		l.log.Warn("active schedule resolved an empty pool; falling back",
			logx.String("schedule", out.Leader().ID))
	}

	// Nothing applies. In coexistence mode another system owns the platform
	// outside our schedules, so we do nothing at all (not even filler/clear).
	if settings.CoexistenceMode {
		return Noop()
	}

	if armed := l.state.ArmedFallbackCategoryID; armed != "" {
		if cat, ok := cats[armed]; ok {
			items, mode := l.picker.CategoryPool(cat)
			if len(items) > 0 {
				return Selection{Kind: SelectionApply, Items: items, Mode: mode}
			}
		}
		l.log.Warn("armed fallback category unresolvable", logx.String("category", armed))
	}

	if sel, ok := l.filler.Select(ctx, settings.Filler, cats, seqs); ok {
		return sel
	}

	if settings.ClearWhenInactive {
		return Clear()
	}
	return Noop()
}

// winnerSelection resolves a lone winner's content pool: its category by that
// category's own strategy, or its saved sequence's bounded random block.
func (l *Loop) winnerSelection(ctx context.Context, w Schedule, cats map[string]Category, seqs SequenceLookup) Selection {
	if w.SequenceID != "" {
		seq, ok, err := seqs.GetSequence(ctx, w.SequenceID)
		if err != nil || !ok {
			l.log.Warn("winner sequence unavailable",
				logx.String("schedule", w.ID), logx.String("sequence", w.SequenceID), logx.Err(err))
			return Noop()
		}
		items := l.picker.SequenceBlock(seq)
		if len(items) == 0 {
			return Noop()
		}
		return Selection{Kind: SelectionApply, Items: items, Mode: ModeSequential}
	}
	cat, ok := cats[w.CategoryID]
	if !ok {
		l.log.Warn("winner category missing",
			logx.String("schedule", w.ID), logx.String("category", w.CategoryID))
		return Noop()
	}
	items, mode := l.picker.CategoryPool(cat)
	if len(items) == 0 {
		return Noop()
	}
	return Selection{Kind: SelectionApply, Items: items, Mode: mode}
}

func (l *Loop) applySelection(ctx context.Context, sel Selection) error {
	if sel.Kind == SelectionNoop {
		return nil
	}
	h := sel.Hash()
	if h == l.state.LastAppliedHash {
		l.log.Debug("selection unchanged; nothing to apply")
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, l.cfg.ApplyTimeout)
	defer cancel()
	if err := l.applier.Apply(cctx, sel); err != nil {
		// Soft failure: last applied stays stale so the next tick retries.
		if l.failLimiter.Allow() {
			l.log.Error("apply failed; will retry next tick", logx.Err(err))
		} else {
			l.log.Debug("apply failed (repeat)", logx.Err(err))
		}
		return nil
	}

	l.state.LastAppliedHash = h
	l.log.Info("selection applied",
		logx.String("kind", string(sel.Kind)),
		logx.Int("items", len(sel.Items)),
		logx.String("mode", string(sel.Mode)))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeSelectionApplied, Data: sel})
	}
	return nil
}

func (l *Loop) noteTransition(leader *Schedule) {
	id := ""
	if leader != nil {
		id = leader.ID
	}
	if id == l.lastLeader {
		return
	}
	l.log.Info("active schedule changed",
		logx.String("from", l.lastLeader), logx.String("to", id))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeTransition, Data: map[string]string{
			"from": l.lastLeader,
			"to":   id,
		}})
	}
	l.lastLeader = id
}

func (l *Loop) persistState(ctx context.Context) {
	if l.states == nil {
		return
	}
	if err := l.states.SaveState(ctx, l.state); err != nil {
		l.log.Debug("engine state persist failed", logx.Err(err))
	}
}

func (l *Loop) categories(ctx context.Context) (map[string]Category, error) {
	list, err := l.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Category, len(list))
	for _, c := range list {
		m[c.ID] = c
	}
	return m, nil
}

// location resolves the configured zone, falling back to UTC with a loud
// warning on unknown identifiers. A silently wrong zone would miscompute
// every overnight range, so this never fails quietly.
func (l *Loop) location(name string) *time.Location {
	if name == l.locName && l.loc != nil {
		return l.loc
	}
	loc := time.UTC
	if name != "" {
		parsed, err := time.LoadLocation(name)
		if err != nil {
			l.log.Warn("unknown timezone; falling back to UTC", logx.String("timezone", name), logx.Err(err))
		} else {
			loc = parsed
		}
	}
	l.locName = name
	l.loc = loc
	return loc
}

// fingerprint hashes every input that can influence the resolved selection:
// the outcome's members, their source pools, the armed slot, and the settings
// bits of the inactive branch. When it matches the previous tick the engine
// reuses the prior selection instead of re-rolling random pools, which keeps
// back-to-back ticks idempotent.
func (l *Loop) fingerprint(ctx context.Context, out Outcome, settings Settings, cats map[string]Category, seqs SequenceLookup) (uint64, error) {
	type source struct {
		Category  string       `json:"cat,omitempty"`
		Sequence  string       `json:"seq,omitempty"`
		Strategy  Strategy     `json:"strategy,omitempty"`
		BlockSize int          `json:"block,omitempty"`
		Items     []string     `json:"items,omitempty"`
	}
	collect := func(categoryID, sequenceID string) (source, error) {
		src := source{Category: categoryID, Sequence: sequenceID}
		if sequenceID != "" {
			seq, ok, err := seqs.GetSequence(ctx, sequenceID)
			if err != nil {
				return src, err
			}
			if ok {
				src.BlockSize = seq.BlockSize
				for _, it := range seq.Items {
					src.Items = append(src.Items, it.ID)
				}
			}
			return src, nil
		}
		if cat, ok := cats[categoryID]; ok {
			src.Strategy = cat.Strategy
			for _, it := range cat.Items {
				src.Items = append(src.Items, it.ID)
			}
		}
		return src, nil
	}

	var fp struct {
		Winner   string       `json:"winner,omitempty"`
		Blend    []string     `json:"blend,omitempty"`
		Sources  []source     `json:"sources,omitempty"`
		Armed    string       `json:"armed,omitempty"`
		ArmedSrc source       `json:"armed_src,omitempty"`
		Filler   FillerConfig `json:"filler"`
		FillerSrc source      `json:"filler_src,omitempty"`
		Coexist  bool         `json:"coexist"`
		Clear    bool         `json:"clear"`
	}

	members := out.BlendGroup
	if out.Winner != nil {
		fp.Winner = out.Winner.ID
		members = []Schedule{*out.Winner}
	}
	for _, m := range members {
		if out.Winner == nil {
			fp.Blend = append(fp.Blend, m.ID)
		}
		src, err := collect(m.CategoryID, m.SequenceID)
		if err != nil {
			return 0, err
		}
		fp.Sources = append(fp.Sources, src)
	}
	sort.Strings(fp.Blend)

	fp.Armed = l.state.ArmedFallbackCategoryID
	if fp.Armed != "" {
		src, err := collect(fp.Armed, "")
		if err != nil {
			return 0, err
		}
		fp.ArmedSrc = src
	}
	fp.Filler = settings.Filler
	if settings.Filler.Enabled {
		var err error
		switch settings.Filler.Kind {
		case FillerCategory:
			fp.FillerSrc, err = collect(settings.Filler.TargetID, "")
		case FillerSequence:
			fp.FillerSrc, err = collect("", settings.Filler.TargetID)
		}
		if err != nil {
			return 0, err
		}
	}
	fp.Coexist = settings.CoexistenceMode
	fp.Clear = settings.ClearWhenInactive

	return hashJSON(fp), nil
}

// seqCache memoizes sequence lookups (including misses) for one tick so the
// fingerprint pass and the resolution pass hit the store once per id.
type seqCache struct {
	store Store
	hits  map[string]Sequence
	miss  map[string]bool
}

func newSeqCache(store Store) *seqCache {
	return &seqCache{store: store, hits: map[string]Sequence{}, miss: map[string]bool{}}
}

func (c *seqCache) GetSequence(ctx context.Context, id string) (Sequence, bool, error) {
	if seq, ok := c.hits[id]; ok {
		return seq, true, nil
	}
	if c.miss[id] {
		return Sequence{}, false, nil
	}
	seq, ok, err := c.store.GetSequence(ctx, id)
	if err != nil {
		return Sequence{}, false, err
	}
	if !ok {
		c.miss[id] = true
		return Sequence{}, false, nil
	}
	c.hits[id] = seq
	return seq, true, nil
}
