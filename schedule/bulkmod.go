package schedule

import (
	"context"
	"time"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// bulkCallbacks supplies the kind-specific pieces of a bulk modification.
type bulkCallbacks[T Entity[T]] struct {
	// continuation builds the new tail master anchored at the modification
	// date. rule is nil when only a single occurrence remains.
	continuation func(start, end time.Time, rule *recurrence.Rule) T

	// setMasterRule replaces the master's rule with the truncated head.
	setMasterRule func(rule *recurrence.Rule)
}

// createBulkModification edits a series from startDate forward: the
// parent's rule is truncated to the occurrences before startDate, the tail
// is either cancelled outright or re-created as a continuation entity, and
// a BulkModification record ties the two together. A split that leaves the
// parent with no occurrences deletes the parent and its exceptions.
func createBulkModification[T Entity[T]](ctx context.Context, s *Service, ops entityOps[T], master T, startDate time.Time, cancel bool, cb bulkCallbacks[T]) (*storage.BulkModification, error) {
	rule := master.RecurrenceRule()
	if rule == nil {
		return nil, notRecurringError(ops.kind)
	}
	masterStart, masterEnd := master.Period()
	if err := checkOccurrenceDate(rule, masterStart, masterEnd, startDate); err != nil {
		return nil, err
	}

	truncated, continuation, err := recurrence.SplitAt(rule, masterStart, startDate)
	if err != nil {
		return nil, err
	}

	record := &storage.BulkModification{
		Kind:      ops.kind,
		ParentID:  master.EntityID(),
		StartDate: startDate,
		Cancelled: cancel,
	}

	if !cancel {
		var contRule *recurrence.Rule
		if r, ok := continuation.Get(); ok {
			contRule = r
		}
		duration := masterEnd.Sub(masterStart)
		tail := cb.continuation(startDate, startDate.Add(duration), contRule)
		if err := ops.create(ctx, tail); err != nil {
			return nil, err
		}
		record.ContinuationID = tail.EntityID()
	}

	if head, ok := truncated.Get(); ok {
		cb.setMasterRule(head)
		if err := ops.update(ctx, master); err != nil {
			return nil, err
		}
	} else {
		// The split precedes every occurrence; nothing of the parent
		// survives.
		if err := s.store.DeleteExceptions(ctx, ops.kind, master.EntityID()); err != nil {
			return nil, err
		}
		if err := ops.remove(ctx, master.EntityID()); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateBulkModification(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Debug("created bulk modification",
		"kind", ops.kind, "parent", master.EntityID(),
		"start_date", startDate, "cancelled", cancel,
		"continuation", record.ContinuationID)
	return record, nil
}

// CreateEventBulkModification cancels (mod == nil) or modifies every
// occurrence of a recurring event from startDate forward. startDate must
// align with a generated occurrence.
func (s *Service) CreateEventBulkModification(ctx context.Context, eventID string, startDate time.Time, mod *EventModification) (*storage.BulkModification, error) {
	master, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	cb := bulkCallbacks[*storage.Event]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.Event {
			tail := &storage.Event{
				CalendarID:   master.CalendarID,
				Title:        master.Title,
				Description:  master.Description,
				StartTime:    start,
				EndTime:      end,
				Rule:         rule,
				BulkParentID: master.ID,
				Attendees:    append([]string(nil), master.Attendees...),
				ResourceIDs:  append([]string(nil), master.ResourceIDs...),
			}
			if mod != nil {
				applyEventModification(tail, mod)
			}
			return tail
		},
		setMasterRule: func(rule *recurrence.Rule) { master.Rule = rule },
	}
	return createBulkModification(ctx, s, s.eventOps(), master, startDate, mod == nil, cb)
}

// CreateBlockedTimeBulkModification cancels or modifies a recurring
// blocked time from startDate forward.
func (s *Service) CreateBlockedTimeBulkModification(ctx context.Context, blockedID string, startDate time.Time, mod *BlockedTimeModification) (*storage.BulkModification, error) {
	master, err := s.store.GetBlockedTime(ctx, blockedID)
	if err != nil {
		return nil, err
	}

	cb := bulkCallbacks[*storage.BlockedTime]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.BlockedTime {
			tail := &storage.BlockedTime{
				CalendarID:   master.CalendarID,
				Reason:       master.Reason,
				StartTime:    start,
				EndTime:      end,
				Rule:         rule,
				BulkParentID: master.ID,
			}
			if mod != nil {
				applyBlockedTimeModification(tail, mod)
			}
			return tail
		},
		setMasterRule: func(rule *recurrence.Rule) { master.Rule = rule },
	}
	return createBulkModification(ctx, s, s.blockedOps(), master, startDate, mod == nil, cb)
}

// CreateAvailableTimeBulkModification cancels or modifies a recurring
// available time from startDate forward.
func (s *Service) CreateAvailableTimeBulkModification(ctx context.Context, availableID string, startDate time.Time, mod *AvailableTimeModification) (*storage.BulkModification, error) {
	master, err := s.store.GetAvailableTime(ctx, availableID)
	if err != nil {
		return nil, err
	}

	cb := bulkCallbacks[*storage.AvailableTime]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.AvailableTime {
			tail := &storage.AvailableTime{
				CalendarID:   master.CalendarID,
				StartTime:    start,
				EndTime:      end,
				Rule:         rule,
				BulkParentID: master.ID,
			}
			if mod != nil {
				applyAvailableTimeModification(tail, mod)
			}
			return tail
		},
		setMasterRule: func(rule *recurrence.Rule) { master.Rule = rule },
	}
	return createBulkModification(ctx, s, s.availableOps(), master, startDate, mod == nil, cb)
}
