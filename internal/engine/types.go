package engine

import (
	"context"
	"fmt"
	"time"
)

// ScheduleType selects the recurrence rule used by the window evaluator.
type ScheduleType string

const (
	TypeOneOff        ScheduleType = "one_off"
	TypeDaily         ScheduleType = "daily"
	TypeWeekly        ScheduleType = "weekly"
	TypeMonthly       ScheduleType = "monthly"
	TypeYearlyHoliday ScheduleType = "yearly_holiday"
	TypeCustom        ScheduleType = "custom"
)

// ClockTime is a wall-clock time of day in minutes since midnight [0, 1440).
type ClockTime int

func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

func ClockTimeOf(t time.Time) ClockTime { return ClockTime(t.Hour()*60 + t.Minute()) }

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// ClockRange is an intraday activation window.
//
// End < Start is not an error: it encodes an overnight wrap
// (e.g. 22:00-03:00 covers late evening through early morning).
type ClockRange struct {
	Start ClockTime
	End   ClockTime
}

// Contains reports whether c falls inside the range, inclusive on both ends.
func (r ClockRange) Contains(c ClockTime) bool {
	if r.Start > r.End {
		return c >= r.Start || c <= r.End
	}
	return c >= r.Start && c <= r.End
}

// MonthDay is a year-agnostic calendar point used by yearly_holiday schedules.
type MonthDay struct {
	Month time.Month
	Day   int
}

func (m MonthDay) valid() bool {
	return m.Month >= time.January && m.Month <= time.December && m.Day >= 1 && m.Day <= 31
}

// before reports whether m sorts before o within one calendar year.
func (m MonthDay) before(o MonthDay) bool {
	if m.Month != o.Month {
		return m.Month < o.Month
	}
	return m.Day < o.Day
}

func (m MonthDay) equal(o MonthDay) bool { return m.Month == o.Month && m.Day == o.Day }

// Schedule binds a content source to an activation window.
//
// Start/End carry wall-clock date/time components; the evaluator interprets
// them in the engine's configured zone. Only the fields required by Type are
// meaningful (Weekdays for weekly, MonthDay for monthly, ...).
type Schedule struct {
	ID   string
	Name string
	Type ScheduleType

	// Content source: exactly one of CategoryID/SequenceID should be set.
	CategoryID string
	SequenceID string

	Start time.Time
	End   *time.Time

	TimeRange *ClockRange

	Weekdays    []int // weekly: 0=Sunday .. 6=Saturday
	MonthDay    int   // monthly: day of month
	YearlyStart MonthDay
	YearlyEnd   MonthDay
	CronExpr    string // custom: cron day selector

	Priority           int // 1..10, 0 means unset (defaults to 5)
	Exclusive          bool
	BlendEnabled       bool
	FallbackCategoryID string
	Color              string
	Enabled            bool
}

// EffectivePriority normalizes Priority into [1,10], defaulting to 5.
func (s Schedule) EffectivePriority() int {
	p := s.Priority
	if p == 0 {
		return 5
	}
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// Strategy decides how a category's item list turns into a playback pool.
type Strategy string

const (
	StrategyShuffle    Strategy = "shuffle"
	StrategySequential Strategy = "sequential"
	StrategyFixed      Strategy = "fixed"
)

// Category is a named pool of content items.
type Category struct {
	ID       string
	Name     string
	Strategy Strategy
	Items    []ContentRef
}

// Sequence is a saved, ordered item list with bounded random-block resolution:
// resolving it yields a random contiguous block of up to BlockSize items
// (the whole list when BlockSize is 0).
type Sequence struct {
	ID        string
	Name      string
	Items     []ContentRef
	BlockSize int
}

// ContentRef is an opaque pointer into the media platform's catalog.
type ContentRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type FillerKind string

const (
	FillerCategory  FillerKind = "category"
	FillerSequence  FillerKind = "sequence"
	FillerGenerated FillerKind = "generated"
)

type FillerConfig struct {
	Enabled  bool
	Kind     FillerKind
	TargetID string
}

// Settings is the externally owned global configuration snapshot.
type Settings struct {
	CoexistenceMode   bool
	ClearWhenInactive bool
	Filler            FillerConfig
	PollInterval      time.Duration
	Timezone          string
}

const DefaultPollInterval = 60 * time.Second

// EffectivePollInterval returns PollInterval with the documented default.
func (s Settings) EffectivePollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}

// SelectionKind distinguishes "set this content", "clear it", and "do nothing".
type SelectionKind string

const (
	SelectionApply SelectionKind = "apply"
	SelectionClear SelectionKind = "clear"
	SelectionNoop  SelectionKind = "noop"
)

type PlaybackMode string

const (
	ModeRandom     PlaybackMode = "random"
	ModeSequential PlaybackMode = "sequential"
)

// Selection is the final per-tick decision handed to the Applier.
type Selection struct {
	Kind  SelectionKind `json:"kind"`
	Items []ContentRef  `json:"items,omitempty"`
	Mode  PlaybackMode  `json:"mode,omitempty"`
}

func Clear() Selection { return Selection{Kind: SelectionClear} }
func Noop() Selection  { return Selection{Kind: SelectionNoop} }

// State holds the two cross-tick memos owned by the loop. Everything else is
// recomputed from scratch every tick.
type State struct {
	ArmedFallbackCategoryID string
	LastAppliedHash         uint64
}

// Store provides the read-only data snapshot consumed each tick.
// Implementations must tolerate concurrent writers elsewhere; the engine
// accepts eventual consistency (edits land on the next tick).
type Store interface {
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)
	ListCategories(ctx context.Context) ([]Category, error)
	GetSequence(ctx context.Context, id string) (Sequence, bool, error)
	GetSettings(ctx context.Context) (Settings, error)
}

// StateStore optionally persists engine state across restarts. Its absence
// does not affect correctness; the armed fallback simply starts empty.
type StateStore interface {
	LoadState(ctx context.Context) (State, bool, error)
	SaveState(ctx context.Context, st State) error
}

// Applier pushes a selection to the media platform. It must be idempotent:
// every call sets the platform's field to the full latest value.
type Applier interface {
	Apply(ctx context.Context, sel Selection) error
}
