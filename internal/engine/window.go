package engine

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"rotarr/pkg/logx"
)

// Evaluator decides whether a single schedule is active at a local instant.
//
// Every comparison happens in wall-clock local time: the loop converts the
// tick instant into the configured zone exactly once and passes the localized
// value down. Malformed schedules evaluate inactive and are logged, never
// returned as errors; a broken row must not take the whole tick down.
type Evaluator struct {
	log    logx.Logger
	parser cron.Parser
}

func NewEvaluator(log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{
		log: log,
		// Standard 5-field specs plus @daily style descriptors.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Active reports whether s is active at now. now must already be localized.
func (e *Evaluator) Active(s Schedule, now time.Time) bool {
	switch s.Type {
	case TypeOneOff:
		return e.activeOneOff(s, now)
	case TypeDaily:
		return inRange(s.TimeRange, now)
	case TypeWeekly:
		return e.activeWeekly(s, now)
	case TypeMonthly:
		return e.activeMonthly(s, now)
	case TypeYearlyHoliday:
		return e.activeYearly(s, now)
	case TypeCustom:
		return e.activeCustom(s, now)
	default:
		e.malformed(s, "unknown schedule type")
		return false
	}
}

func (e *Evaluator) activeOneOff(s Schedule, now time.Time) bool {
	if s.Start.IsZero() {
		e.malformed(s, "one_off schedule has no start")
		return false
	}
	start := asLocal(s.Start, now.Location())
	end := endOfDay(start)
	if s.End != nil {
		end = asLocal(*s.End, now.Location())
	}
	if end.Before(start) {
		// end < start violates the one_off invariant; treat as never active.
		e.malformed(s, "end precedes start")
		return false
	}
	return !now.Before(start) && !now.After(end)
}

func (e *Evaluator) activeWeekly(s Schedule, now time.Time) bool {
	if len(s.Weekdays) == 0 {
		e.malformed(s, "weekly schedule has no weekdays")
		return false
	}
	match := false
	for _, d := range s.Weekdays {
		if d == int(now.Weekday()) {
			match = true
			break
		}
	}
	return match && inRange(s.TimeRange, now)
}

func (e *Evaluator) activeMonthly(s Schedule, now time.Time) bool {
	if s.MonthDay < 1 || s.MonthDay > 31 {
		e.malformed(s, "monthly schedule has no valid day of month")
		return false
	}
	return now.Day() == s.MonthDay && inRange(s.TimeRange, now)
}

func (e *Evaluator) activeYearly(s Schedule, now time.Time) bool {
	if !s.YearlyStart.valid() || !s.YearlyEnd.valid() {
		e.malformed(s, "yearly schedule has no valid month/day span")
		return false
	}
	md := MonthDay{Month: now.Month(), Day: now.Day()}
	return inYearlySpan(md, s.YearlyStart, s.YearlyEnd) && inRange(s.TimeRange, now)
}

// activeCustom treats the cron expression as a day selector: the schedule is
// live on any local date the cron spec fires on, with the intraday range (if
// any) applied on matching days.
func (e *Evaluator) activeCustom(s Schedule, now time.Time) bool {
	expr := strings.TrimSpace(s.CronExpr)
	if expr == "" {
		e.malformed(s, "custom schedule has no cron expression")
		return false
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		e.malformed(s, "invalid cron expression: "+err.Error())
		return false
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := sched.Next(dayStart.Add(-time.Second))
	if next.IsZero() || !next.Before(dayStart.AddDate(0, 0, 1)) {
		return false
	}
	return inRange(s.TimeRange, now)
}

func (e *Evaluator) malformed(s Schedule, reason string) {
	e.log.Warn("schedule excluded from evaluation",
		logx.String("schedule", s.ID),
		logx.String("name", s.Name),
		logx.String("reason", reason))
}

// inRange applies the intraday window, honoring the overnight wrap encoding.
// A nil range means all day.
func inRange(r *ClockRange, now time.Time) bool {
	if r == nil {
		return true
	}
	return r.Contains(ClockTimeOf(now))
}

// inYearlySpan reports whether md falls in [start, end] ignoring year,
// supporting spans that cross the year boundary (Dec 20 - Jan 5).
func inYearlySpan(md, start, end MonthDay) bool {
	if end.before(start) {
		return !md.before(start) || !end.before(md)
	}
	return !md.before(start) && !end.before(md)
}

// asLocal rebuilds t's wall-clock components in loc. Stored timestamps are
// zone-less; their components are what the user meant in the engine zone.
func asLocal(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
