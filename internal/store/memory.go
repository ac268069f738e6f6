package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rotarr/internal/engine"
)

// Memory is an in-process Store used for tests and the bundled dry-run mode.
// All methods are safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	schedules map[string]engine.Schedule
	cats      map[string]engine.Category
	seqs      map[string]engine.Sequence
	settings  engine.Settings
	state     engine.State
	haveState bool
}

func NewMemory() *Memory {
	return &Memory{
		schedules: make(map[string]engine.Schedule),
		cats:      make(map[string]engine.Category),
		seqs:      make(map[string]engine.Sequence),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ListEnabledSchedules(context.Context) ([]engine.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Schedule, 0, len(m.schedules))
	for _, sc := range m.schedules {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m *Memory) ListCategories(context.Context) ([]engine.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Category, 0, len(m.cats))
	for _, c := range m.cats {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) GetSequence(_ context.Context, id string) (engine.Sequence, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.seqs[id]
	return seq, ok, nil
}

func (m *Memory) GetSettings(context.Context) (engine.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *Memory) LoadState(context.Context) (engine.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.haveState, nil
}

func (m *Memory) SaveState(_ context.Context, st engine.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.haveState = true
	return nil
}

func (m *Memory) UpsertSchedule(_ context.Context, sc engine.Schedule) (string, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[sc.ID] = sc
	return sc.ID, nil
}

func (m *Memory) UpsertCategory(_ context.Context, c engine.Category) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats[c.ID] = c
	return c.ID, nil
}

func (m *Memory) UpsertSequence(_ context.Context, seq engine.Sequence) (string, error) {
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[seq.ID] = seq
	return seq.ID, nil
}

func (m *Memory) PutSettings(_ context.Context, st engine.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = st
	return nil
}
