package schedule

import (
	"context"
	"time"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// EventModification carries the field overrides for a modified event
// occurrence. Nil fields keep the master's value.
type EventModification struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
}

// BlockedTimeModification carries the field overrides for a modified
// blocked-time occurrence.
type BlockedTimeModification struct {
	Reason    *string
	StartTime *time.Time
	EndTime   *time.Time
}

// AvailableTimeModification carries the field overrides for a modified
// available-time occurrence.
type AvailableTimeModification struct {
	StartTime *time.Time
	EndTime   *time.Time
}

// exceptionCallbacks supplies the kind-specific builders the generic
// exception logic cannot express: minting the override entity, rewriting
// the master in place for a master-date modification, and minting the
// continuation master for a master-date transition.
type exceptionCallbacks[T Entity[T]] struct {
	// override builds the materialized override entity for a modified
	// occurrence spanning [start, end). Nil means the occurrence is
	// cancelled instead.
	override func(start, end time.Time) T

	// applyToMaster rewrites the master's own fields for the master-date
	// modification branch. The rule is cleared by the generic code.
	applyToMaster func()

	// continuation builds the new series master anchored at the next
	// occurrence, carrying rule and a chain link to the old master.
	continuation func(start, end time.Time, rule *recurrence.Rule) T
}

// checkOccurrenceDate verifies that date is the exact start of a generated
// occurrence of the rule.
func checkOccurrenceDate(rule *recurrence.Rule, anchorStart, anchorEnd, date time.Time) error {
	occs, err := recurrence.Expand(rule, anchorStart, anchorEnd, recurrence.ExpandOptions{
		From: date,
		To:   date.Add(time.Nanosecond),
	})
	if err != nil {
		return err
	}
	if len(occs) == 0 || !occs[0].Start.Equal(date) {
		return ErrOccurrenceMismatch
	}
	return nil
}

// createException records a per-date exception on a recurring master.
// Cancelling or modifying the master's own date instead converts the
// series: the master becomes (or is removed as) a single entity and the
// remainder continues as a new master; the returned exception is nil in
// that branch.
func createException[T Entity[T]](ctx context.Context, s *Service, ops entityOps[T], master T, date time.Time, cb exceptionCallbacks[T]) (*storage.Exception, error) {
	rule := master.RecurrenceRule()
	if rule == nil {
		return nil, notRecurringError(ops.kind)
	}
	masterStart, masterEnd := master.Period()
	if err := checkOccurrenceDate(rule, masterStart, masterEnd, date); err != nil {
		return nil, err
	}

	if date.Equal(masterStart) {
		return nil, convertMaster(ctx, s, ops, master, cb)
	}

	// Re-creating an exception for the same date replaces the previous
	// override entity.
	prev, err := s.store.GetException(ctx, ops.kind, master.EntityID(), date)
	switch {
	case err == nil && prev.ModifiedID != "":
		if err := ops.remove(ctx, prev.ModifiedID); err != nil && !storage.IsNotFound(err) {
			return nil, err
		}
	case err != nil && !storage.IsNotFound(err):
		return nil, err
	}

	exc := &storage.Exception{Kind: ops.kind, ParentID: master.EntityID(), Date: date}
	if cb.override == nil {
		exc.Cancelled = true
	} else {
		duration := masterEnd.Sub(masterStart)
		modified := cb.override(date, date.Add(duration))
		if err := ops.create(ctx, modified); err != nil {
			return nil, err
		}
		exc.ModifiedID = modified.EntityID()
	}
	if err := s.store.UpsertException(ctx, exc); err != nil {
		return nil, err
	}

	s.logger.Debug("created exception",
		"kind", ops.kind, "parent", master.EntityID(),
		"date", date, "cancelled", exc.Cancelled)
	return exc, nil
}

// convertMaster handles the exception-on-master-date state transition. The
// series re-anchors at the next occurrence as a new master with the
// consumed occurrence deducted from COUNT; the old master is deleted
// (cancelled) or rewritten as a single non-recurring entity (modified).
// Exceptions of the old series no longer describe any occurrence and are
// dropped.
func convertMaster[T Entity[T]](ctx context.Context, s *Service, ops entityOps[T], master T, cb exceptionCallbacks[T]) error {
	rule := master.RecurrenceRule()
	masterStart, masterEnd := master.Period()

	next, err := recurrence.NextOccurrence(rule, masterStart, masterEnd, masterStart)
	if err != nil {
		return err
	}
	if occ, ok := next.Get(); ok {
		contRule := rule.Clone()
		if contRule.Count > 0 {
			contRule.Count--
		}
		continuation := cb.continuation(occ.Start, occ.End, contRule)
		if err := ops.create(ctx, continuation); err != nil {
			return err
		}
	}

	if err := s.store.DeleteExceptions(ctx, ops.kind, master.EntityID()); err != nil {
		return err
	}

	if cb.override == nil {
		if err := ops.remove(ctx, master.EntityID()); err != nil {
			return err
		}
	} else {
		cb.applyToMaster()
		if err := ops.update(ctx, master); err != nil {
			return err
		}
	}

	s.logger.Debug("converted series master",
		"kind", ops.kind, "master", master.EntityID(), "cancelled", cb.override == nil)
	return nil
}

// CreateEventException cancels (mod == nil) or modifies one occurrence of
// a recurring event. An exception on the master's own start date converts
// the series instead and returns a nil exception.
func (s *Service) CreateEventException(ctx context.Context, eventID string, date time.Time, mod *EventModification) (*storage.Exception, error) {
	master, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	cb := exceptionCallbacks[*storage.Event]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.Event {
			return &storage.Event{
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
		},
	}
	if mod != nil {
		cb.override = func(start, end time.Time) *storage.Event {
			override := master.Instance(start, end)
			override.IsException = true
			applyEventModification(override, mod)
			return override
		}
		cb.applyToMaster = func() {
			applyEventModification(master, mod)
			master.Rule = nil
		}
	}
	return createException(ctx, s, s.eventOps(), master, date, cb)
}

// CreateBlockedTimeException cancels or modifies one occurrence of a
// recurring blocked time.
func (s *Service) CreateBlockedTimeException(ctx context.Context, blockedID string, date time.Time, mod *BlockedTimeModification) (*storage.Exception, error) {
	master, err := s.store.GetBlockedTime(ctx, blockedID)
	if err != nil {
		return nil, err
	}

	cb := exceptionCallbacks[*storage.BlockedTime]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.BlockedTime {
			return &storage.BlockedTime{
				CalendarID:   master.CalendarID,
				Reason:       master.Reason,
				StartTime:    start,
				EndTime:      end,
				Rule:         rule,
				BulkParentID: master.ID,
			}
		},
	}
	if mod != nil {
		cb.override = func(start, end time.Time) *storage.BlockedTime {
			override := master.Instance(start, end)
			override.IsException = true
			applyBlockedTimeModification(override, mod)
			return override
		}
		cb.applyToMaster = func() {
			applyBlockedTimeModification(master, mod)
			master.Rule = nil
		}
	}
	return createException(ctx, s, s.blockedOps(), master, date, cb)
}

// CreateAvailableTimeException cancels or modifies one occurrence of a
// recurring available time.
func (s *Service) CreateAvailableTimeException(ctx context.Context, availableID string, date time.Time, mod *AvailableTimeModification) (*storage.Exception, error) {
	master, err := s.store.GetAvailableTime(ctx, availableID)
	if err != nil {
		return nil, err
	}

	cb := exceptionCallbacks[*storage.AvailableTime]{
		continuation: func(start, end time.Time, rule *recurrence.Rule) *storage.AvailableTime {
			return &storage.AvailableTime{
				CalendarID:   master.CalendarID,
				StartTime:    start,
				EndTime:      end,
				Rule:         rule,
				BulkParentID: master.ID,
			}
		},
	}
	if mod != nil {
		cb.override = func(start, end time.Time) *storage.AvailableTime {
			override := master.Instance(start, end)
			override.IsException = true
			applyAvailableTimeModification(override, mod)
			return override
		}
		cb.applyToMaster = func() {
			applyAvailableTimeModification(master, mod)
			master.Rule = nil
		}
	}
	return createException(ctx, s, s.availableOps(), master, date, cb)
}

func applyEventModification(event *storage.Event, mod *EventModification) {
	if mod.Title != nil {
		event.Title = *mod.Title
	}
	if mod.Description != nil {
		event.Description = *mod.Description
	}
	if mod.StartTime != nil {
		event.StartTime = *mod.StartTime
	}
	if mod.EndTime != nil {
		event.EndTime = *mod.EndTime
	}
}

func applyBlockedTimeModification(blocked *storage.BlockedTime, mod *BlockedTimeModification) {
	if mod.Reason != nil {
		blocked.Reason = *mod.Reason
	}
	if mod.StartTime != nil {
		blocked.StartTime = *mod.StartTime
	}
	if mod.EndTime != nil {
		blocked.EndTime = *mod.EndTime
	}
}

func applyAvailableTimeModification(available *storage.AvailableTime, mod *AvailableTimeModification) {
	if mod.StartTime != nil {
		available.StartTime = *mod.StartTime
	}
	if mod.EndTime != nil {
		available.EndTime = *mod.EndTime
	}
}
