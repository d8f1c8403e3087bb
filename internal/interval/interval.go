// Package interval answers "which logged value was in effect at time T" for
// the dated logs kept on an issue (statuses, story points, sprint events).
package interval

import (
	"sort"
	"time"
)

// Interval is a half-open span [start, end). A zero end means open-ended.
type Interval interface {
	Bounds() (start, end time.Time)
}

// Contains reports whether t falls in [start, end).
func Contains(iv Interval, t time.Time) bool {
	start, end := iv.Bounds()
	if t.Before(start) {
		return false
	}
	return end.IsZero() || t.Before(end)
}

// Open reports whether the interval has no end yet.
func Open(iv Interval) bool {
	_, end := iv.Bounds()
	return end.IsZero()
}

// At returns the item in effect at t. items must be ordered by start and must
// not overlap, which is how the change-log parser emits them.
func At[I Interval](items []I, t time.Time) (I, bool) {
	// first item starting after t; the candidate is the one before it
	i := sort.Search(len(items), func(i int) bool {
		start, _ := items[i].Bounds()
		return start.After(t)
	})
	if i > 0 && Contains(items[i-1], t) {
		return items[i-1], true
	}
	var zero I
	return zero, false
}

// Sorted returns a copy of items ordered by start time. Ties keep input order.
func Sorted[I Interval](items []I) []I {
	out := make([]I, len(items))
	copy(out, items)
	sort.SliceStable(out, func(a, b int) bool {
		sa, _ := out[a].Bounds()
		sb, _ := out[b].Bounds()
		return sa.Before(sb)
	})
	return out
}

// StartsWithin reports whether the interval starts in [from, to), or in
// [from, to] when inclusiveEnd is set.
func StartsWithin(iv Interval, from, to time.Time, inclusiveEnd bool) bool {
	start, _ := iv.Bounds()
	if start.Before(from) {
		return false
	}
	if inclusiveEnd {
		return !start.After(to)
	}
	return start.Before(to)
}
