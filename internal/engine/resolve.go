package engine

import "sort"

// Outcome is the result of conflict resolution for one tick.
// Exactly one of Winner / BlendGroup is set; both may be empty when the
// active set itself was empty.
type Outcome struct {
	Winner     *Schedule
	BlendGroup []Schedule
}

// Resolve picks the winner (or blend group) from the set of active schedules.
//
// It is a pure function of the input set: permuting the slice yields the same
// outcome. Rules, in order:
//
//  1. Any exclusive schedule suppresses everything else; the best exclusive
//     wins outright and no blend occurs.
//  2. Two or more non-exclusive blend-enabled schedules form a blend group.
//     Priority does not prune group members.
//  3. Otherwise the best non-exclusive schedule wins. A lone blend-enabled
//     schedule lands here and behaves like any other winner.
//
// "Best" means highest effective priority, ties broken by earliest end date
// (open-ended sorts last), then earliest start date, then lowest id.
func Resolve(active []Schedule) Outcome {
	var exclusive, rest []Schedule
	for _, s := range active {
		if s.Exclusive {
			exclusive = append(exclusive, s)
		} else {
			rest = append(rest, s)
		}
	}

	if len(exclusive) > 0 {
		w := best(exclusive)
		return Outcome{Winner: &w}
	}

	var blend []Schedule
	for _, s := range rest {
		if s.BlendEnabled {
			blend = append(blend, s)
		}
	}
	if len(blend) >= 2 {
		sort.Slice(blend, func(i, j int) bool { return blend[i].ID < blend[j].ID })
		return Outcome{BlendGroup: blend}
	}

	if len(rest) == 0 {
		return Outcome{}
	}
	w := best(rest)
	return Outcome{Winner: &w}
}

// Leader returns the single schedule the outcome's fallback derives from:
// the winner, or the highest-precedence member of a blend group.
func (o Outcome) Leader() *Schedule {
	if o.Winner != nil {
		return o.Winner
	}
	if len(o.BlendGroup) > 0 {
		w := best(o.BlendGroup)
		return &w
	}
	return nil
}

func best(list []Schedule) Schedule {
	w := list[0]
	for _, s := range list[1:] {
		if beats(s, w) {
			w = s
		}
	}
	return w
}

// beats reports whether a outranks b under the full tie-break chain.
func beats(a, b Schedule) bool {
	if pa, pb := a.EffectivePriority(), b.EffectivePriority(); pa != pb {
		return pa > pb
	}
	// Earlier end wins; a missing end is treated as latest possible.
	switch {
	case a.End != nil && b.End == nil:
		return true
	case a.End == nil && b.End != nil:
		return false
	case a.End != nil && b.End != nil && !a.End.Equal(*b.End):
		return a.End.Before(*b.End)
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}
