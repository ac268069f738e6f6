// Package engine is the active-schedule resolution and content-selection
// core. Given a clock tick and a snapshot of schedule/category data it
// deterministically decides what content the media platform should present:
// time-window evaluation (with overnight wraparound), priority/exclusivity/
// blend conflict resolution, a single-slot armed fallback, and a global
// last-resort filler. The Loop re-evaluates periodically and pushes changes
// through an Applier only when the selection actually changed.
//
// The engine has no network surface of its own; it reads snapshots through
// the Store interface and is driven in-process by the host.
package engine
