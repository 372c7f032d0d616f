// Package schedule implements the calendar engine on top of a storage.Store:
// occurrence resolution with per-date exceptions, series editing (exception
// creation, master-date conversion, bulk modifications with continuations)
// and availability calculation.
//
// All operations are pure computation plus store calls. Operations that read
// then write state of the same series (exception upserts, bulk splits,
// master-date conversion) are not internally atomic; callers editing one
// series concurrently must serialize per series.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// ErrNotRecurring is returned by series-editing operations on entities
// without a recurrence rule.
var ErrNotRecurring = errors.New("entity is not recurring")

// ErrOccurrenceMismatch is returned when an exception or modification date
// does not align with a generated occurrence of the series.
var ErrOccurrenceMismatch = errors.New("date does not match an occurrence of the series")

// Service exposes the engine operations over a Store.
type Service struct {
	store  storage.Store
	config Config
	logger *slog.Logger
}

// New creates a schedule service with the default configuration.
func New(store storage.Store) *Service {
	return NewWithConfig(store, DefaultConfig)
}

// NewWithConfig creates a schedule service with a custom configuration.
func NewWithConfig(store storage.Store, config Config) *Service {
	if config.MaxOccurrences <= 0 {
		config.MaxOccurrences = recurrence.DefaultMaxOccurrences
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, config: config, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() storage.Store { return s.store }

// entityOps bundles the kind-specific store operations the generic series
// logic needs. The three entity kinds share all recurring behavior through
// this surface instead of three hardcoded implementations.
type entityOps[T Entity[T]] struct {
	kind   storage.EntityKind
	get    func(ctx context.Context, id string) (T, error)
	create func(ctx context.Context, entity T) error
	update func(ctx context.Context, entity T) error
	remove func(ctx context.Context, id string) error
}

func (s *Service) eventOps() entityOps[*storage.Event] {
	return entityOps[*storage.Event]{
		kind:   storage.KindEvent,
		get:    s.store.GetEvent,
		create: s.store.CreateEvent,
		update: s.store.UpdateEvent,
		remove: s.store.DeleteEvent,
	}
}

func (s *Service) blockedOps() entityOps[*storage.BlockedTime] {
	return entityOps[*storage.BlockedTime]{
		kind:   storage.KindBlockedTime,
		get:    s.store.GetBlockedTime,
		create: s.store.CreateBlockedTime,
		update: s.store.UpdateBlockedTime,
		remove: s.store.DeleteBlockedTime,
	}
}

func (s *Service) availableOps() entityOps[*storage.AvailableTime] {
	return entityOps[*storage.AvailableTime]{
		kind:   storage.KindAvailableTime,
		get:    s.store.GetAvailableTime,
		create: s.store.CreateAvailableTime,
		update: s.store.UpdateAvailableTime,
		remove: s.store.DeleteAvailableTime,
	}
}

// EventInput carries the fields for creating an event.
type EventInput struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Attendees   []string
	ResourceIDs []string

	// RecurrenceRule is an optional RRULE string; a non-empty value makes
	// the event a recurring master.
	RecurrenceRule string
}

// CreateEvent creates an event (optionally recurring) on a calendar and
// removes available-time windows the event overlaps.
func (s *Service) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*storage.Event, error) {
	rule, err := s.parseRuleInput(input.RecurrenceRule)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}

	event := &storage.Event{
		CalendarID:  calendarID,
		Title:       input.Title,
		Description: input.Description,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Rule:        rule,
		Attendees:   append([]string(nil), input.Attendees...),
		ResourceIDs: append([]string(nil), input.ResourceIDs...),
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Debug("created event",
		"calendar", calendarID, "event", event.ID, "recurring", rule != nil)

	if err := s.removeOverlappingAvailableTimes(ctx, calendarID, input.StartTime, input.EndTime); err != nil {
		return nil, err
	}
	return event, nil
}

// BlockedTimeInput carries the fields for creating a blocked time.
type BlockedTimeInput struct {
	Reason         string
	StartTime      time.Time
	EndTime        time.Time
	RecurrenceRule string
}

// CreateBlockedTime creates a single blocked time (optionally recurring).
func (s *Service) CreateBlockedTime(ctx context.Context, calendarID string, input BlockedTimeInput) (*storage.BlockedTime, error) {
	created, err := s.BulkCreateBlockedTimes(ctx, calendarID, []BlockedTimeInput{input})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// BulkCreateBlockedTimes creates blocked times on a calendar and removes
// available-time windows they overlap.
func (s *Service) BulkCreateBlockedTimes(ctx context.Context, calendarID string, inputs []BlockedTimeInput) ([]*storage.BlockedTime, error) {
	if _, err := s.store.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}

	created := make([]*storage.BlockedTime, 0, len(inputs))
	for _, input := range inputs {
		rule, err := s.parseRuleInput(input.RecurrenceRule)
		if err != nil {
			return nil, err
		}
		blocked := &storage.BlockedTime{
			CalendarID: calendarID,
			Reason:     input.Reason,
			StartTime:  input.StartTime,
			EndTime:    input.EndTime,
			Rule:       rule,
		}
		if err := s.store.CreateBlockedTime(ctx, blocked); err != nil {
			return nil, err
		}
		if err := s.removeOverlappingAvailableTimes(ctx, calendarID, input.StartTime, input.EndTime); err != nil {
			return nil, err
		}
		created = append(created, blocked)
	}
	return created, nil
}

// AvailableTimeInput carries the fields for creating an available time.
type AvailableTimeInput struct {
	StartTime      time.Time
	EndTime        time.Time
	RecurrenceRule string
}

// CreateAvailableTime creates a single available time (optionally
// recurring) on a managed calendar.
func (s *Service) CreateAvailableTime(ctx context.Context, calendarID string, input AvailableTimeInput) (*storage.AvailableTime, error) {
	created, err := s.BulkCreateAvailableTimes(ctx, calendarID, []AvailableTimeInput{input})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// BulkCreateAvailableTimes creates available-time windows. The calendar
// must manage available windows.
func (s *Service) BulkCreateAvailableTimes(ctx context.Context, calendarID string, inputs []AvailableTimeInput) ([]*storage.AvailableTime, error) {
	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if !cal.ManageAvailableWindows {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "calendar does not manage available windows",
		}
	}

	created := make([]*storage.AvailableTime, 0, len(inputs))
	for _, input := range inputs {
		rule, err := s.parseRuleInput(input.RecurrenceRule)
		if err != nil {
			return nil, err
		}
		available := &storage.AvailableTime{
			CalendarID: calendarID,
			StartTime:  input.StartTime,
			EndTime:    input.EndTime,
			Rule:       rule,
		}
		if err := s.store.CreateAvailableTime(ctx, available); err != nil {
			return nil, err
		}
		created = append(created, available)
	}
	return created, nil
}

// parseRuleInput parses and validates an optional RRULE string.
func (s *Service) parseRuleInput(text string) (*recurrence.Rule, error) {
	if text == "" {
		return nil, nil
	}
	rule, err := recurrence.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// removeOverlappingAvailableTimes deletes available-time records that
// overlap [start, end). The whole record is removed rather than carving the
// non-overlapping remainder.
func (s *Service) removeOverlappingAvailableTimes(ctx context.Context, calendarID string, start, end time.Time) error {
	times, err := s.store.ListAvailableTimes(ctx, calendarID, &storage.ListOptions{From: &start, To: &end})
	if err != nil {
		return err
	}
	for _, available := range times {
		if err := s.store.DeleteAvailableTime(ctx, available.ID); err != nil {
			return err
		}
		s.logger.Debug("removed overlapping available time",
			"calendar", calendarID, "available_time", available.ID)
	}
	return nil
}

// notRecurringError builds the descriptive per-kind rejection.
func notRecurringError(kind storage.EntityKind) error {
	return fmt.Errorf("%w: cannot edit series of non-recurring %s", ErrNotRecurring, kind)
}
