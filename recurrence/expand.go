package recurrence

import (
	"sort"
	"time"

	"github.com/samber/mo"
)

// DefaultMaxOccurrences caps expansion so that unbounded rules always
// terminate.
const DefaultMaxOccurrences = 10000

// Occurrence is one concrete instance of a recurring series.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// ExpandOptions controls occurrence expansion.
type ExpandOptions struct {
	// From/To bound the query window. Occurrence starts inside [From, To)
	// are returned.
	From time.Time
	To   time.Time

	// MaxOccurrences caps the size of the returned set. Zero means
	// DefaultMaxOccurrences.
	MaxOccurrences int
}

// Expand generates the ordered occurrences of rule anchored at
// (anchorStart, anchorEnd) whose starts fall inside [opts.From, opts.To).
//
// The cursor is seeded at the anchor start. COUNT is charged for every
// occurrence generated since the anchor, including ones skipped because they
// precede the window. Expansion stops when COUNT is exhausted, UNTIL is
// exceeded, the cursor passes the window, or the returned set reaches the
// cap, in that priority order. An unsupported frequency is a hard error.
func Expand(rule *Rule, anchorStart, anchorEnd time.Time, opts ExpandOptions) ([]Occurrence, error) {
	max := opts.MaxOccurrences
	if max <= 0 {
		max = DefaultMaxOccurrences
	}
	duration := anchorEnd.Sub(anchorStart)

	var out []Occurrence
	err := iterate(rule, anchorStart, func(start time.Time) bool {
		if !start.Before(opts.To) {
			return false
		}
		if !start.Before(opts.From) {
			out = append(out, Occurrence{Start: start, End: start.Add(duration)})
			if len(out) >= max {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextOccurrence returns the first occurrence strictly after the given time,
// or None when the series is finite and exhausted.
func NextOccurrence(rule *Rule, anchorStart, anchorEnd, after time.Time) (mo.Option[Occurrence], error) {
	duration := anchorEnd.Sub(anchorStart)

	next := mo.None[Occurrence]()
	err := iterate(rule, anchorStart, func(start time.Time) bool {
		if start.After(after) {
			next = mo.Some(Occurrence{Start: start, End: start.Add(duration)})
			return false
		}
		return true
	})
	if err != nil {
		return mo.None[Occurrence](), err
	}
	return next, nil
}

// CountBefore counts the occurrences with a start strictly before t, capped
// at DefaultMaxOccurrences.
func CountBefore(rule *Rule, anchor, t time.Time) (int, error) {
	n := 0
	err := iterate(rule, anchor, func(start time.Time) bool {
		if !start.Before(t) {
			return false
		}
		n++
		return n < DefaultMaxOccurrences
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// lastStartBefore returns the start of the last occurrence strictly before t.
func lastStartBefore(rule *Rule, anchor, t time.Time) (mo.Option[time.Time], error) {
	last := mo.None[time.Time]()
	n := 0
	err := iterate(rule, anchor, func(start time.Time) bool {
		if !start.Before(t) {
			return false
		}
		last = mo.Some(start)
		n++
		return n < DefaultMaxOccurrences
	})
	if err != nil {
		return mo.None[time.Time](), err
	}
	return last, nil
}

// iterate walks the occurrence starts of rule from the anchor forward,
// calling visit for each until visit returns false or the series terminates
// via COUNT or UNTIL. The rule is validated before the first step.
func iterate(rule *Rule, anchor time.Time, visit func(start time.Time) bool) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	step := stepper(rule, anchor)
	cursor := anchor
	for generated := 0; ; generated++ {
		if rule.Count > 0 && generated >= rule.Count {
			return nil
		}
		if rule.Until != nil && cursor.After(*rule.Until) {
			return nil
		}
		if !visit(cursor) {
			return nil
		}
		cursor = step(cursor)
	}
}

// stepper returns the frequency-specific cursor advance. Monthly and yearly
// steps are computed from the anchor so that the anchor's day-of-month is
// preserved across clamped months (Jan 31 -> Feb 28 -> Mar 31).
func stepper(rule *Rule, anchor time.Time) func(time.Time) time.Time {
	switch rule.Frequency {
	case Daily:
		return func(cursor time.Time) time.Time {
			return cursor.AddDate(0, 0, rule.Interval)
		}
	case Weekly:
		if len(rule.ByDay) == 0 {
			return func(cursor time.Time) time.Time {
				return cursor.AddDate(0, 0, 7*rule.Interval)
			}
		}
		targets := weekdayTargets(rule.ByDay)
		return func(cursor time.Time) time.Time {
			idx := mondayIndex(cursor)
			for _, target := range targets {
				if target > idx {
					return cursor.AddDate(0, 0, target-idx)
				}
			}
			// No later weekday in this block: jump to the first target
			// weekday of the next interval block.
			days := (7 - idx) + 7*(rule.Interval-1) + targets[0]
			return cursor.AddDate(0, 0, days)
		}
	case Monthly:
		steps := 0
		return func(time.Time) time.Time {
			steps++
			return addMonthsClamped(anchor, steps*rule.Interval)
		}
	case Yearly:
		steps := 0
		return func(time.Time) time.Time {
			steps++
			return addMonthsClamped(anchor, 12*steps*rule.Interval)
		}
	default:
		// Unreachable: iterate validates the frequency first.
		return func(cursor time.Time) time.Time { return cursor }
	}
}

// weekdayTargets converts BYDAY tokens to sorted, deduplicated Monday-based
// indexes so enumeration runs in chronological weekday order.
func weekdayTargets(days []Weekday) []int {
	seen := make(map[int]bool, len(days))
	var targets []int
	for _, day := range days {
		idx, ok := weekdayIndex[day]
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		targets = append(targets, idx)
	}
	sort.Ints(targets)
	return targets
}

// mondayIndex maps a time's weekday to MO=0 .. SU=6.
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// addMonthsClamped advances t by the given number of months keeping the
// day-of-month, clamped to the target month's last day. time.AddDate is
// avoided because it normalizes Jan 31 + 1 month into March.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	total := int(month) - 1 + months
	year += total / 12
	total %= 12
	if total < 0 {
		total += 12
		year--
	}
	target := time.Month(total + 1)

	if last := daysInMonth(year, target); day > last {
		day = last
	}
	return time.Date(year, target, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
