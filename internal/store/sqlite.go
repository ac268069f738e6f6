package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"rotarr/internal/engine"
	"rotarr/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is the zone-less wall-clock format used for stored timestamps.
// The engine interprets the components in its configured zone.
const timeLayout = "2006-01-02T15:04:05"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Snapshot reads ----

func (s *sqliteStore) ListEnabledSchedules(ctx context.Context) ([]engine.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, category_id, sequence_id, start_at, end_at,
		        range_start, range_end, weekdays, month_day, yearly_start, yearly_end,
		        cron_expr, priority, exclusive, blend, fallback_category_id, color, enabled
		 FROM schedules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Schedule
	for rows.Next() {
		var (
			sc                   engine.Schedule
			startRaw, endRaw     string
			rangeStart, rangeEnd sql.NullInt64
			weekdays             string
			yStart, yEnd         string
			exclusive, blend     int
			enabled              int
		)
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Type, &sc.CategoryID, &sc.SequenceID,
			&startRaw, &endRaw, &rangeStart, &rangeEnd, &weekdays, &sc.MonthDay,
			&yStart, &yEnd, &sc.CronExpr, &sc.Priority, &exclusive, &blend,
			&sc.FallbackCategoryID, &sc.Color, &enabled); err != nil {
			return nil, err
		}
		sc.Exclusive = exclusive != 0
		sc.BlendEnabled = blend != 0
		sc.Enabled = enabled != 0

		if t, ok := parseWallClock(startRaw); ok {
			sc.Start = t
		}
		if t, ok := parseWallClock(endRaw); ok {
			sc.End = &t
		}
		if rangeStart.Valid && rangeEnd.Valid {
			sc.TimeRange = &engine.ClockRange{
				Start: engine.ClockTime(rangeStart.Int64),
				End:   engine.ClockTime(rangeEnd.Int64),
			}
		}
		sc.Weekdays = parseWeekdays(weekdays)
		sc.YearlyStart = parseMonthDay(yStart)
		sc.YearlyEnd = parseMonthDay(yEnd)

		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCategories(ctx context.Context) ([]engine.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, strategy FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []engine.Category
	for rows.Next() {
		var c engine.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Strategy); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cats {
		items, err := s.listItems(ctx, "category_items", "category_id", cats[i].ID)
		if err != nil {
			return nil, err
		}
		cats[i].Items = items
	}
	return cats, nil
}

func (s *sqliteStore) GetSequence(ctx context.Context, id string) (engine.Sequence, bool, error) {
	var seq engine.Sequence
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, block_size FROM sequences WHERE id = ?`, id).
		Scan(&seq.ID, &seq.Name, &seq.BlockSize)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Sequence{}, false, nil
	}
	if err != nil {
		return engine.Sequence{}, false, err
	}
	items, err := s.listItems(ctx, "sequence_items", "sequence_id", id)
	if err != nil {
		return engine.Sequence{}, false, err
	}
	seq.Items = items
	return seq, true, nil
}

func (s *sqliteStore) GetSettings(ctx context.Context) (engine.Settings, error) {
	var (
		st                engine.Settings
		coexist, clear    int
		fillerEnabled     int
		kind, target, tz  string
		pollSeconds       int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT coexistence, clear_when_inactive, filler_enabled, filler_kind,
		        filler_target, poll_seconds, timezone
		 FROM settings WHERE id = 1`).
		Scan(&coexist, &clear, &fillerEnabled, &kind, &target, &pollSeconds, &tz)
	if err != nil {
		return engine.Settings{}, err
	}
	st.CoexistenceMode = coexist != 0
	st.ClearWhenInactive = clear != 0
	st.Filler = engine.FillerConfig{
		Enabled:  fillerEnabled != 0,
		Kind:     engine.FillerKind(kind),
		TargetID: target,
	}
	st.PollInterval = time.Duration(pollSeconds) * time.Second
	st.Timezone = tz
	return st, nil
}

func (s *sqliteStore) listItems(ctx context.Context, table, keyCol, id string) ([]engine.ContentRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, title FROM `+table+` WHERE `+keyCol+` = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []engine.ContentRef
	for rows.Next() {
		var r engine.ContentRef
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// ---- Engine state ----

func (s *sqliteStore) LoadState(ctx context.Context) (engine.State, bool, error) {
	var (
		st   engine.State
		hash int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT armed_fallback, last_applied_hash FROM engine_state WHERE id = 1`).
		Scan(&st.ArmedFallbackCategoryID, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.State{}, false, nil
	}
	if err != nil {
		return engine.State{}, false, err
	}
	st.LastAppliedHash = uint64(hash)
	return st, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st engine.State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_state (id, armed_fallback, last_applied_hash, updated_at)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   armed_fallback = excluded.armed_fallback,
		   last_applied_hash = excluded.last_applied_hash,
		   updated_at = excluded.updated_at`,
		st.ArmedFallbackCategoryID, int64(st.LastAppliedHash), time.Now().UTC().Format(time.RFC3339))
	return err
}

// ---- Write surface (external collaborators) ----

// UpsertSchedule inserts or replaces a schedule, assigning an id when empty.
func (s *sqliteStore) UpsertSchedule(ctx context.Context, sc engine.Schedule) (string, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	var rangeStart, rangeEnd any
	if sc.TimeRange != nil {
		rangeStart = int64(sc.TimeRange.Start)
		rangeEnd = int64(sc.TimeRange.End)
	}
	endRaw := ""
	if sc.End != nil {
		endRaw = sc.End.Format(timeLayout)
	}
	startRaw := ""
	if !sc.Start.IsZero() {
		startRaw = sc.Start.Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schedules
		   (id, name, type, category_id, sequence_id, start_at, end_at,
		    range_start, range_end, weekdays, month_day, yearly_start, yearly_end,
		    cron_expr, priority, exclusive, blend, fallback_category_id, color, enabled)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sc.ID, sc.Name, string(sc.Type), sc.CategoryID, sc.SequenceID, startRaw, endRaw,
		rangeStart, rangeEnd, formatWeekdays(sc.Weekdays), sc.MonthDay,
		formatMonthDay(sc.YearlyStart), formatMonthDay(sc.YearlyEnd),
		sc.CronExpr, sc.EffectivePriority(), boolInt(sc.Exclusive), boolInt(sc.BlendEnabled),
		sc.FallbackCategoryID, sc.Color, boolInt(sc.Enabled))
	return sc.ID, err
}

// UpsertCategory replaces a category and its item list atomically.
func (s *sqliteStore) UpsertCategory(ctx context.Context, c engine.Category) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO categories (id, name, strategy) VALUES (?,?,?)`,
		c.ID, c.Name, string(c.Strategy)); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM category_items WHERE category_id = ?`, c.ID); err != nil {
		return "", err
	}
	for i, it := range c.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_items (category_id, position, content_id, title) VALUES (?,?,?,?)`,
			c.ID, i, it.ID, it.Title); err != nil {
			return "", err
		}
	}
	return c.ID, tx.Commit()
}

// UpsertSequence replaces a sequence and its item list atomically.
func (s *sqliteStore) UpsertSequence(ctx context.Context, seq engine.Sequence) (string, error) {
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sequences (id, name, block_size) VALUES (?,?,?)`,
		seq.ID, seq.Name, seq.BlockSize); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sequence_items WHERE sequence_id = ?`, seq.ID); err != nil {
		return "", err
	}
	for i, it := range seq.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sequence_items (sequence_id, position, content_id, title) VALUES (?,?,?,?)`,
			seq.ID, i, it.ID, it.Title); err != nil {
			return "", err
		}
	}
	return seq.ID, tx.Commit()
}

// PutSettings replaces the single settings row.
func (s *sqliteStore) PutSettings(ctx context.Context, st engine.Settings) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET coexistence = ?, clear_when_inactive = ?, filler_enabled = ?,
		   filler_kind = ?, filler_target = ?, poll_seconds = ?, timezone = ?
		 WHERE id = 1`,
		boolInt(st.CoexistenceMode), boolInt(st.ClearWhenInactive), boolInt(st.Filler.Enabled),
		string(st.Filler.Kind), st.Filler.TargetID, int(st.EffectivePollInterval()/time.Second), st.Timezone)
	return err
}

// ---- Encoding helpers ----

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseWallClock(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseWeekdays(raw string) []int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 0 || d > 6 {
			continue
		}
		out = append(out, d)
	}
	return out
}

func formatWeekdays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// parseMonthDay parses "MM-DD"; the zero value is returned for blanks or junk.
func parseMonthDay(raw string) engine.MonthDay {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return engine.MonthDay{}
	}
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return engine.MonthDay{}
	}
	m, err1 := strconv.Atoi(parts[0])
	d, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return engine.MonthDay{}
	}
	return engine.MonthDay{Month: time.Month(m), Day: d}
}

func formatMonthDay(md engine.MonthDay) string {
	if md.Month == 0 && md.Day == 0 {
		return ""
	}
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}
