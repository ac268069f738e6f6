// Package store persists schedules, categories, sequences, and settings, and
// serves the read-only snapshots the engine consumes each tick. Writes come
// from external collaborators (editing UIs, sync jobs); the engine itself
// only reads, plus the small engine-state memo it persists best-effort.
package store

import (
	"errors"
	"strings"
	"time"

	"rotarr/internal/engine"
	"rotarr/pkg/logx"
)

var ErrDisabled = errors.New("store disabled")

// Config configures the store backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, mainly for tests and embedding hosts
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the full persistence API: engine snapshots, engine-state memos,
// and the write surface used by external collaborators.
type Store interface {
	engine.Store
	engine.StateStore
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
