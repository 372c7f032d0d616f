package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// Occurrences implements schedule.OccurrenceSource by generating fixed-step
// series in the database. Only DAILY and WEEKLY rules without BY* parts map
// onto a fixed step; anything else reports not-served and the caller
// expands in process. generate_series runs WITH ORDINALITY so COUNT is
// charged for pre-window occurrences exactly like the in-process cursor,
// while max caps only the rows returned.
func (s *Store) Occurrences(ctx context.Context, kind storage.EntityKind, entityID string, from, to time.Time, max int) ([]storage.Occurrence, bool, error) {
	entity, err := s.getEntity(ctx, kind, entityID)
	if err != nil {
		return nil, false, err
	}
	rule := entity.Rule
	if rule == nil {
		return nil, false, fmt.Errorf("entity %s has no recurrence rule", entityID)
	}

	stepDays, ok := fixedStepDays(rule)
	if !ok {
		return nil, false, nil
	}
	if max <= 0 {
		max = recurrence.DefaultMaxOccurrences
	}

	// Generation stops at the window end, UNTIL (inclusive), or the
	// generation cap, whichever comes first.
	upper := to.Add(-time.Nanosecond)
	if rule.Until != nil && rule.Until.Before(upper) {
		upper = *rule.Until
	}

	// COUNT charges every generated step from the anchor, pre-window ones
	// included, so it bounds the ordinality. The caller's cap bounds only
	// the returned set and is applied after the window filter.
	rows, err := s.pool.Query(ctx,
		`SELECT g.s
		 FROM generate_series($1::timestamptz, $2::timestamptz, $3::interval)
		      WITH ORDINALITY AS g(s, ord)
		 WHERE ($4 = 0 OR g.ord <= $4) AND g.s >= $5
		 ORDER BY g.s
		 LIMIT $6`,
		entity.StartTime, upper, fmt.Sprintf("%d days", stepDays), rule.Count, from, max,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	duration := entity.EndTime.Sub(entity.StartTime)
	var occs []storage.Occurrence
	for rows.Next() {
		var start time.Time
		if err := rows.Scan(&start); err != nil {
			return nil, false, err
		}
		occs = append(occs, storage.Occurrence{
			Start:    start,
			End:      start.Add(duration),
			EntityID: entityID,
			Kind:     kind,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return occs, true, nil
}

// fixedStepDays reports the constant day step of a rule, when it has one.
func fixedStepDays(rule *recurrence.Rule) (int, bool) {
	if len(rule.ByDay) > 0 || len(rule.ByMonthDay) > 0 || len(rule.ByMonth) > 0 ||
		len(rule.ByYearDay) > 0 || len(rule.ByWeekNo) > 0 ||
		len(rule.ByHour) > 0 || len(rule.ByMinute) > 0 || len(rule.BySecond) > 0 {
		return 0, false
	}
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}
	switch rule.Frequency {
	case recurrence.Daily:
		return interval, true
	case recurrence.Weekly:
		return 7 * interval, true
	default:
		return 0, false
	}
}
