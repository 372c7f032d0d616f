package storage

import (
	"context"
	"time"
)

// ListOptions filters entity listings.
type ListOptions struct {
	// From/To keep entities whose stored span overlaps [From, To)
	// (start < To && end > From). Nil leaves the bound open.
	From *time.Time
	To   *time.Time

	// Recurring keeps only recurring masters (true) or only entities
	// without a rule (false). Nil keeps both.
	Recurring *bool

	// MastersOnly drops instances (entities with a parent back-reference).
	MastersOnly bool

	// ExcludeExceptions drops materialized exception overrides.
	ExcludeExceptions bool
}

// Store is the persistence interface consumed by the schedule service.
// Implementations must treat (Kind, ParentID, Date) as a uniqueness key for
// exceptions. Stores synchronize individual calls; read-then-write sequences
// on the same series are the caller's responsibility (see package schedule).
type Store interface {
	// Calendar operations
	CreateCalendar(ctx context.Context, cal *Calendar) error
	GetCalendar(ctx context.Context, id string) (*Calendar, error)
	ListCalendars(ctx context.Context) ([]*Calendar, error)

	// Event operations
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	UpdateEvent(ctx context.Context, event *Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, calendarID string, opts *ListOptions) ([]*Event, error)

	// Blocked-time operations
	CreateBlockedTime(ctx context.Context, blocked *BlockedTime) error
	GetBlockedTime(ctx context.Context, id string) (*BlockedTime, error)
	UpdateBlockedTime(ctx context.Context, blocked *BlockedTime) error
	DeleteBlockedTime(ctx context.Context, id string) error
	ListBlockedTimes(ctx context.Context, calendarID string, opts *ListOptions) ([]*BlockedTime, error)

	// Available-time operations
	CreateAvailableTime(ctx context.Context, available *AvailableTime) error
	GetAvailableTime(ctx context.Context, id string) (*AvailableTime, error)
	UpdateAvailableTime(ctx context.Context, available *AvailableTime) error
	DeleteAvailableTime(ctx context.Context, id string) error
	ListAvailableTimes(ctx context.Context, calendarID string, opts *ListOptions) ([]*AvailableTime, error)

	// Exception operations. UpsertException updates in place when the
	// (Kind, ParentID, Date) key already exists.
	UpsertException(ctx context.Context, exc *Exception) error
	GetException(ctx context.Context, kind EntityKind, parentID string, date time.Time) (*Exception, error)
	ListExceptions(ctx context.Context, kind EntityKind, parentID string) ([]*Exception, error)
	DeleteExceptions(ctx context.Context, kind EntityKind, parentID string) error

	// Bulk modification records
	CreateBulkModification(ctx context.Context, mod *BulkModification) error
	ListBulkModifications(ctx context.Context, kind EntityKind, parentID string) ([]*BulkModification, error)

	// ListContinuationIDs returns the IDs of entities whose bulk
	// modification parent is parentID.
	ListContinuationIDs(ctx context.Context, kind EntityKind, parentID string) ([]string, error)
}

// Overlaps reports whether [start, end) overlaps the optional [from, to)
// window. Shared by Store implementations.
func Overlaps(start, end time.Time, from, to *time.Time) bool {
	if to != nil && !start.Before(*to) {
		return false
	}
	if from != nil && !end.After(*from) {
		return false
	}
	return true
}
