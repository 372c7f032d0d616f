// Package storage defines the calendar data model and the Store interface
// implemented by persistence backends. The engine itself performs no I/O;
// everything here is plain data plus CRUD.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/schedkit/schedkit/recurrence"
)

// ErrorType classifies storage errors.
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrNotFound
}

// EntityKind identifies one of the three recurring entity kinds.
type EntityKind string

const (
	KindEvent         EntityKind = "event"
	KindBlockedTime   EntityKind = "blocked_time"
	KindAvailableTime EntityKind = "available_time"
)

// Calendar is the owning scope for events and time windows.
type Calendar struct {
	ID   string
	Name string

	// ManageAvailableWindows marks the calendar as "managed": bookable time
	// is declared through AvailableTime windows instead of being derived
	// from the absence of obstructions.
	ManageAvailableWindows bool
}

// Recurrer is the capability surface shared by the three recurring entity
// kinds. The schedule package resolves occurrences generically through it.
type Recurrer interface {
	EntityID() string
	EntityKind() EntityKind
	Period() (start, end time.Time)
	RecurrenceRule() *recurrence.Rule
	ParentEntityID() string
}

// Event is a calendar event, optionally recurring.
type Event struct {
	ID          string
	CalendarID  string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time

	// Rule marks the event as a recurring master when set. Owned one-to-one.
	Rule *recurrence.Rule

	// ParentID marks the event as an instance of a recurring master.
	// Non-owning back-reference.
	ParentID string

	// RecurrenceTime identifies which occurrence an instance represents.
	RecurrenceTime *time.Time

	// IsException marks a materialized occurrence override.
	IsException bool

	// BulkParentID chains a continuation entity back to the series segment
	// it was split from. Non-owning.
	BulkParentID string

	Attendees   []string
	ResourceIDs []string
}

func (e *Event) EntityID() string                { return e.ID }
func (e *Event) EntityKind() EntityKind          { return KindEvent }
func (e *Event) Period() (time.Time, time.Time)  { return e.StartTime, e.EndTime }
func (e *Event) RecurrenceRule() *recurrence.Rule { return e.Rule }
func (e *Event) ParentEntityID() string          { return e.ParentID }

// Duration returns the constant occurrence duration of the event.
func (e *Event) Duration() time.Duration { return e.EndTime.Sub(e.StartTime) }

// IsRecurring reports whether the event owns a recurrence rule.
func (e *Event) IsRecurring() bool { return e.Rule != nil }

// Instance builds a transient occurrence instance of the master event.
func (e *Event) Instance(start, end time.Time) *Event {
	t := start
	return &Event{
		CalendarID:     e.CalendarID,
		Title:          e.Title,
		Description:    e.Description,
		StartTime:      start,
		EndTime:        end,
		ParentID:       e.ID,
		RecurrenceTime: &t,
		Attendees:      append([]string(nil), e.Attendees...),
		ResourceIDs:    append([]string(nil), e.ResourceIDs...),
	}
}

// BlockedTime is an obstructed span on a calendar, optionally recurring.
type BlockedTime struct {
	ID         string
	CalendarID string
	Reason     string
	StartTime  time.Time
	EndTime    time.Time

	Rule           *recurrence.Rule
	ParentID       string
	RecurrenceTime *time.Time
	IsException    bool
	BulkParentID   string
}

func (b *BlockedTime) EntityID() string                 { return b.ID }
func (b *BlockedTime) EntityKind() EntityKind           { return KindBlockedTime }
func (b *BlockedTime) Period() (time.Time, time.Time)   { return b.StartTime, b.EndTime }
func (b *BlockedTime) RecurrenceRule() *recurrence.Rule { return b.Rule }
func (b *BlockedTime) ParentEntityID() string           { return b.ParentID }

func (b *BlockedTime) Duration() time.Duration { return b.EndTime.Sub(b.StartTime) }
func (b *BlockedTime) IsRecurring() bool       { return b.Rule != nil }

func (b *BlockedTime) Instance(start, end time.Time) *BlockedTime {
	t := start
	return &BlockedTime{
		CalendarID:     b.CalendarID,
		Reason:         b.Reason,
		StartTime:      start,
		EndTime:        end,
		ParentID:       b.ID,
		RecurrenceTime: &t,
	}
}

// AvailableTime is a declared bookable span on a managed calendar,
// optionally recurring.
type AvailableTime struct {
	ID         string
	CalendarID string
	StartTime  time.Time
	EndTime    time.Time

	Rule           *recurrence.Rule
	ParentID       string
	RecurrenceTime *time.Time
	IsException    bool
	BulkParentID   string
}

func (a *AvailableTime) EntityID() string                 { return a.ID }
func (a *AvailableTime) EntityKind() EntityKind           { return KindAvailableTime }
func (a *AvailableTime) Period() (time.Time, time.Time)   { return a.StartTime, a.EndTime }
func (a *AvailableTime) RecurrenceRule() *recurrence.Rule { return a.Rule }
func (a *AvailableTime) ParentEntityID() string           { return a.ParentID }

func (a *AvailableTime) Duration() time.Duration { return a.EndTime.Sub(a.StartTime) }
func (a *AvailableTime) IsRecurring() bool       { return a.Rule != nil }

func (a *AvailableTime) Instance(start, end time.Time) *AvailableTime {
	t := start
	return &AvailableTime{
		CalendarID:     a.CalendarID,
		StartTime:      start,
		EndTime:        end,
		ParentID:       a.ID,
		RecurrenceTime: &t,
	}
}

// Exception is a per-date override of one occurrence of a recurring series.
// At most one exception exists per (Kind, ParentID, Date); Date matching is
// exact-timestamp equality against a generated occurrence start.
type Exception struct {
	ID       string
	Kind     EntityKind
	ParentID string
	Date     time.Time

	Cancelled bool

	// ModifiedID references the materialized override entity when the
	// occurrence is modified rather than cancelled.
	ModifiedID string
}

// BulkModification records a from-date-forward series edit.
type BulkModification struct {
	ID        string
	Kind      EntityKind
	ParentID  string
	StartDate time.Time
	Cancelled bool

	// ContinuationID references the new series entity, empty when the tail
	// was cancelled outright.
	ContinuationID string
}

// Occurrence is the descriptor exchanged with persistence and accelerator
// collaborators: one concrete expansion of an entity.
type Occurrence struct {
	Start       time.Time
	End         time.Time
	EntityID    string
	Kind        EntityKind
	IsException bool
}

// UnavailableWindow is an obstructed span reported by the availability
// calculator, tagged with the kind of entity that produced it.
type UnavailableWindow struct {
	Start    time.Time
	End      time.Time
	Source   EntityKind
	EntityID string
}

// AvailableWindow is a bookable span reported by the availability
// calculator.
type AvailableWindow struct {
	Start time.Time
	End   time.Time

	// EntityID is the backing AvailableTime record, empty for windows
	// derived from an unmanaged calendar's free gaps.
	EntityID string

	// CanBookPartially is false for sub-windows carved out of a declared
	// available-time span by an overlapping obstruction.
	CanBookPartially bool
}
