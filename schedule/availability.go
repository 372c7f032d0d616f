package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/schedkit/schedkit/storage"
)

// Range is one half-open [Start, End) query range for availability checks.
type Range struct {
	Start time.Time
	End   time.Time
}

// UnavailableWindows returns the obstructed spans on a calendar inside
// [from, to): every event and blocked-time occurrence overlapping the
// window, with exceptions applied, tagged with its source kind and sorted
// by start time.
func (s *Service) UnavailableWindows(ctx context.Context, calendarID string, from, to time.Time) ([]storage.UnavailableWindow, error) {
	var windows []storage.UnavailableWindow

	events, err := s.EventsInRange(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if !overlapsRange(event.StartTime, event.EndTime, from, to) {
			continue
		}
		windows = append(windows, storage.UnavailableWindow{
			Start:    event.StartTime,
			End:      event.EndTime,
			Source:   storage.KindEvent,
			EntityID: sourceID(event.ID, event.ParentID),
		})
	}

	blocked, err := s.blockedTimesInRange(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	for _, b := range blocked {
		if !overlapsRange(b.StartTime, b.EndTime, from, to) {
			continue
		}
		windows = append(windows, storage.UnavailableWindow{
			Start:    b.StartTime,
			End:      b.EndTime,
			Source:   storage.KindBlockedTime,
			EntityID: sourceID(b.ID, b.ParentID),
		})
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Start.Before(windows[j].Start)
	})
	return windows, nil
}

// AvailabilityWindows returns the bookable spans on a calendar inside
// [from, to). Managed calendars offer their declared available-time
// occurrences minus overlapping obstructions; sub-windows produced by that
// subtraction cannot be booked partially. Unmanaged calendars offer the
// free gaps of the query range as partially-bookable windows.
func (s *Service) AvailabilityWindows(ctx context.Context, calendarID string, from, to time.Time) ([]storage.AvailableWindow, error) {
	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	unavailable, err := s.UnavailableWindows(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	busy := mergeWindows(unavailable)

	if !cal.ManageAvailableWindows {
		var windows []storage.AvailableWindow
		for _, gap := range subtractSpans(from, to, busy) {
			windows = append(windows, storage.AvailableWindow{
				Start:            gap.Start,
				End:              gap.End,
				CanBookPartially: true,
			})
		}
		return windows, nil
	}

	declared, err := s.availableTimesInRange(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(declared, func(i, j int) bool {
		return declared[i].StartTime.Before(declared[j].StartTime)
	})

	var windows []storage.AvailableWindow
	for _, a := range declared {
		if !overlapsRange(a.StartTime, a.EndTime, from, to) {
			continue
		}
		remnants := subtractSpans(a.StartTime, a.EndTime, busy)
		carved := len(remnants) != 1 ||
			!remnants[0].Start.Equal(a.StartTime) || !remnants[0].End.Equal(a.EndTime)
		for _, remnant := range remnants {
			windows = append(windows, storage.AvailableWindow{
				Start:            remnant.Start,
				End:              remnant.End,
				EntityID:         sourceID(a.ID, a.ParentID),
				CanBookPartially: !carved,
			})
		}
	}
	return windows, nil
}

// CalendarsAvailableInRanges filters candidate calendars down to those
// available in every given range. A managed calendar needs an
// available-time occurrence fully covering each range; an unmanaged one
// needs each range free of obstructions.
func (s *Service) CalendarsAvailableInRanges(ctx context.Context, candidateIDs []string, ranges []Range) ([]*storage.Calendar, error) {
	var available []*storage.Calendar
	for _, id := range candidateIDs {
		cal, err := s.store.GetCalendar(ctx, id)
		if err != nil {
			return nil, err
		}
		ok, err := s.calendarAvailable(ctx, cal, ranges)
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, cal)
		}
	}
	return available, nil
}

func (s *Service) calendarAvailable(ctx context.Context, cal *storage.Calendar, ranges []Range) (bool, error) {
	for _, r := range ranges {
		if cal.ManageAvailableWindows {
			declared, err := s.availableTimesInRange(ctx, cal.ID, r.Start, r.End)
			if err != nil {
				return false, err
			}
			covered := false
			for _, a := range declared {
				if !a.StartTime.After(r.Start) && !a.EndTime.Before(r.End) {
					covered = true
					break
				}
			}
			if !covered {
				return false, nil
			}
			continue
		}

		busy, err := s.UnavailableWindows(ctx, cal.ID, r.Start, r.End)
		if err != nil {
			return false, err
		}
		if len(busy) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// blockedTimesInRange aggregates blocked-time occurrences the way
// EventsInRange aggregates events.
func (s *Service) blockedTimesInRange(ctx context.Context, calendarID string, from, to time.Time) ([]*storage.BlockedTime, error) {
	recurring := true
	masters, err := s.store.ListBlockedTimes(ctx, calendarID, &storage.ListOptions{
		Recurring:   &recurring,
		MastersOnly: true,
	})
	if err != nil {
		return nil, err
	}

	plain := false
	times, err := s.store.ListBlockedTimes(ctx, calendarID, &storage.ListOptions{
		From:              &from,
		To:                &to,
		Recurring:         &plain,
		MastersOnly:       true,
		ExcludeExceptions: true,
	})
	if err != nil {
		return nil, err
	}

	for _, master := range masters {
		resolved, err := resolveSeries(ctx, s, s.blockedOps(), master, ResolveOptions{
			From:              from,
			To:                to,
			IncludeSelf:       true,
			IncludeExceptions: true,
		})
		if err != nil {
			return nil, err
		}
		times = append(times, resolved...)
	}
	return times, nil
}

// availableTimesInRange aggregates available-time occurrences.
func (s *Service) availableTimesInRange(ctx context.Context, calendarID string, from, to time.Time) ([]*storage.AvailableTime, error) {
	recurring := true
	masters, err := s.store.ListAvailableTimes(ctx, calendarID, &storage.ListOptions{
		Recurring:   &recurring,
		MastersOnly: true,
	})
	if err != nil {
		return nil, err
	}

	plain := false
	times, err := s.store.ListAvailableTimes(ctx, calendarID, &storage.ListOptions{
		From:              &from,
		To:                &to,
		Recurring:         &plain,
		MastersOnly:       true,
		ExcludeExceptions: true,
	})
	if err != nil {
		return nil, err
	}

	for _, master := range masters {
		resolved, err := resolveSeries(ctx, s, s.availableOps(), master, ResolveOptions{
			From:              from,
			To:                to,
			IncludeSelf:       true,
			IncludeExceptions: true,
		})
		if err != nil {
			return nil, err
		}
		times = append(times, resolved...)
	}
	return times, nil
}

// span is a plain [Start, End) interval used by the set algebra below.
type span struct {
	Start time.Time
	End   time.Time
}

// mergeWindows collapses overlapping or touching unavailable windows into
// disjoint spans sorted by start.
func mergeWindows(windows []storage.UnavailableWindow) []span {
	if len(windows) == 0 {
		return nil
	}
	spans := make([]span, len(windows))
	for i, w := range windows {
		spans[i] = span{Start: w.Start, End: w.End}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// subtractSpans removes the busy spans from [start, end) and returns the
// remaining gaps in order. busy must be disjoint and sorted.
func subtractSpans(start, end time.Time, busy []span) []span {
	var free []span
	cursor := start
	for _, b := range busy {
		if !b.Start.Before(end) {
			break
		}
		if !b.End.After(cursor) {
			continue
		}
		if b.Start.After(cursor) {
			free = append(free, span{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(end) {
		free = append(free, span{Start: cursor, End: end})
	}
	return free
}

func overlapsRange(start, end, from, to time.Time) bool {
	return start.Before(to) && end.After(from)
}

// sourceID prefers the stored entity ID and falls back to the master's ID
// for transient instances.
func sourceID(id, parentID string) string {
	if id != "" {
		return id
	}
	return parentID
}
