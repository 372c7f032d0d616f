package recurrence

import (
	"time"

	"github.com/samber/mo"
)

// TruncateUntil returns a copy of rule terminating at until. COUNT is
// cleared so the truncated head is bounded by UNTIL alone.
func TruncateUntil(rule *Rule, until time.Time) *Rule {
	truncated := rule.Clone()
	truncated.Count = 0
	truncated.Until = &until
	return truncated
}

// Continuation derives the rule for the tail of a series split at newStart.
// For COUNT-terminated rules the occurrences strictly before newStart are
// subtracted from the budget; None is returned when nothing remains. For
// UNTIL-terminated rules the copy keeps UNTIL, or None when UNTIL does not
// extend past newStart. anchorStart is the original series anchor.
func Continuation(rule *Rule, anchorStart, newStart time.Time) (mo.Option[*Rule], error) {
	if rule.Count > 0 {
		consumed, err := CountBefore(rule, anchorStart, newStart)
		if err != nil {
			return mo.None[*Rule](), err
		}
		remainder := rule.Count - consumed
		if remainder <= 0 {
			return mo.None[*Rule](), nil
		}
		continuation := rule.Clone()
		continuation.Count = remainder
		return mo.Some(continuation), nil
	}

	if rule.Until != nil && !rule.Until.After(newStart) {
		return mo.None[*Rule](), nil
	}
	return mo.Some(rule.Clone()), nil
}

// SplitAt splits a series at splitDate into a truncated head rule and a
// continuation rule. The head terminates at the occurrence immediately
// before splitDate; it is None when no occurrence precedes the split. The
// continuation is None when the series has nothing left at or after the
// split. A split outside the series lifetime is a normal "nothing to do"
// outcome, not an error.
func SplitAt(rule *Rule, anchorStart, splitDate time.Time) (truncated, continuation mo.Option[*Rule], err error) {
	truncated = mo.None[*Rule]()

	previous, err := lastStartBefore(rule, anchorStart, splitDate)
	if err != nil {
		return truncated, mo.None[*Rule](), err
	}
	if prev, ok := previous.Get(); ok {
		truncated = mo.Some(TruncateUntil(rule, prev))
	}

	continuation, err = Continuation(rule, anchorStart, splitDate)
	if err != nil {
		return mo.None[*Rule](), mo.None[*Rule](), err
	}
	return truncated, continuation, nil
}
