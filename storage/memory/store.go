// Package memory provides a map-backed Store used for tests and examples.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schedkit/schedkit/storage"
)

// Store implements storage.Store using in-memory maps guarded by a single
// RWMutex. Individual calls are safe for concurrent use; multi-call edits on
// the same series are not atomic (see package schedule).
type Store struct {
	mu         sync.RWMutex
	calendars  map[string]*storage.Calendar
	events     map[string]*storage.Event
	blocked    map[string]*storage.BlockedTime
	available  map[string]*storage.AvailableTime
	exceptions map[string]*storage.Exception // key: kind/parentID/date
	bulkMods   map[string]*storage.BulkModification
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		calendars:  make(map[string]*storage.Calendar),
		events:     make(map[string]*storage.Event),
		blocked:    make(map[string]*storage.BlockedTime),
		available:  make(map[string]*storage.AvailableTime),
		exceptions: make(map[string]*storage.Exception),
		bulkMods:   make(map[string]*storage.BulkModification),
	}
}

func exceptionKey(kind storage.EntityKind, parentID string, date time.Time) string {
	return string(kind) + "/" + parentID + "/" + date.UTC().Format(time.RFC3339Nano)
}

// Calendar operations

func (s *Store) CreateCalendar(_ context.Context, cal *storage.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	if _, exists := s.calendars[cal.ID]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already exists"}
	}
	s.calendars[cal.ID] = cal
	return nil
}

func (s *Store) GetCalendar(_ context.Context, id string) (*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[id]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar not found"}
	}
	return cal, nil
}

func (s *Store) ListCalendars(_ context.Context) ([]*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var calendars []*storage.Calendar
	for _, cal := range s.calendars {
		calendars = append(calendars, cal)
	}
	return calendars, nil
}

// Event operations

func (s *Store) CreateEvent(_ context.Context, event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if _, exists := s.events[event.ID]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "event already exists"}
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}
	return event, nil
}

func (s *Store) UpdateEvent(_ context.Context, event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[id]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}
	delete(s.events, id)
	return nil
}

func (s *Store) ListEvents(_ context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*storage.Event
	for _, event := range s.events {
		if event.CalendarID != calendarID {
			continue
		}
		if !matches(opts, event.StartTime, event.EndTime, event.Rule != nil, event.ParentID, event.IsException) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Blocked-time operations

func (s *Store) CreateBlockedTime(_ context.Context, blocked *storage.BlockedTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocked.ID == "" {
		blocked.ID = uuid.NewString()
	}
	if _, exists := s.blocked[blocked.ID]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "blocked time already exists"}
	}
	s.blocked[blocked.ID] = blocked
	return nil
}

func (s *Store) GetBlockedTime(_ context.Context, id string) (*storage.BlockedTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocked, ok := s.blocked[id]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "blocked time not found"}
	}
	return blocked, nil
}

func (s *Store) UpdateBlockedTime(_ context.Context, blocked *storage.BlockedTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocked[blocked.ID]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "blocked time not found"}
	}
	s.blocked[blocked.ID] = blocked
	return nil
}

func (s *Store) DeleteBlockedTime(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocked[id]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "blocked time not found"}
	}
	delete(s.blocked, id)
	return nil
}

func (s *Store) ListBlockedTimes(_ context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.BlockedTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []*storage.BlockedTime
	for _, blocked := range s.blocked {
		if blocked.CalendarID != calendarID {
			continue
		}
		if !matches(opts, blocked.StartTime, blocked.EndTime, blocked.Rule != nil, blocked.ParentID, blocked.IsException) {
			continue
		}
		times = append(times, blocked)
	}
	return times, nil
}

// Available-time operations

func (s *Store) CreateAvailableTime(_ context.Context, available *storage.AvailableTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if available.ID == "" {
		available.ID = uuid.NewString()
	}
	if _, exists := s.available[available.ID]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "available time already exists"}
	}
	s.available[available.ID] = available
	return nil
}

func (s *Store) GetAvailableTime(_ context.Context, id string) (*storage.AvailableTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	available, ok := s.available[id]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "available time not found"}
	}
	return available, nil
}

func (s *Store) UpdateAvailableTime(_ context.Context, available *storage.AvailableTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.available[available.ID]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "available time not found"}
	}
	s.available[available.ID] = available
	return nil
}

func (s *Store) DeleteAvailableTime(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.available[id]; !exists {
		return &storage.Error{Type: storage.ErrNotFound, Message: "available time not found"}
	}
	delete(s.available, id)
	return nil
}

func (s *Store) ListAvailableTimes(_ context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.AvailableTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []*storage.AvailableTime
	for _, available := range s.available {
		if available.CalendarID != calendarID {
			continue
		}
		if !matches(opts, available.StartTime, available.EndTime, available.Rule != nil, available.ParentID, available.IsException) {
			continue
		}
		times = append(times, available)
	}
	return times, nil
}

// Exception operations

func (s *Store) UpsertException(_ context.Context, exc *storage.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := exceptionKey(exc.Kind, exc.ParentID, exc.Date)
	if existing, ok := s.exceptions[key]; ok {
		existing.Cancelled = exc.Cancelled
		existing.ModifiedID = exc.ModifiedID
		exc.ID = existing.ID
		return nil
	}

	if exc.ID == "" {
		exc.ID = uuid.NewString()
	}
	s.exceptions[key] = exc
	return nil
}

func (s *Store) GetException(_ context.Context, kind storage.EntityKind, parentID string, date time.Time) (*storage.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exc, ok := s.exceptions[exceptionKey(kind, parentID, date)]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "exception not found"}
	}
	return exc, nil
}

func (s *Store) ListExceptions(_ context.Context, kind storage.EntityKind, parentID string) ([]*storage.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exceptions []*storage.Exception
	for _, exc := range s.exceptions {
		if exc.Kind == kind && exc.ParentID == parentID {
			exceptions = append(exceptions, exc)
		}
	}
	return exceptions, nil
}

func (s *Store) DeleteExceptions(_ context.Context, kind storage.EntityKind, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, exc := range s.exceptions {
		if exc.Kind == kind && exc.ParentID == parentID {
			delete(s.exceptions, key)
		}
	}
	return nil
}

// Bulk modification records

func (s *Store) CreateBulkModification(_ context.Context, mod *storage.BulkModification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	if _, exists := s.bulkMods[mod.ID]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "bulk modification already exists"}
	}
	s.bulkMods[mod.ID] = mod
	return nil
}

func (s *Store) ListBulkModifications(_ context.Context, kind storage.EntityKind, parentID string) ([]*storage.BulkModification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mods []*storage.BulkModification
	for _, mod := range s.bulkMods {
		if mod.Kind == kind && mod.ParentID == parentID {
			mods = append(mods, mod)
		}
	}
	return mods, nil
}

func (s *Store) ListContinuationIDs(_ context.Context, kind storage.EntityKind, parentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	switch kind {
	case storage.KindEvent:
		for _, event := range s.events {
			if event.BulkParentID == parentID {
				ids = append(ids, event.ID)
			}
		}
	case storage.KindBlockedTime:
		for _, blocked := range s.blocked {
			if blocked.BulkParentID == parentID {
				ids = append(ids, blocked.ID)
			}
		}
	case storage.KindAvailableTime:
		for _, available := range s.available {
			if available.BulkParentID == parentID {
				ids = append(ids, available.ID)
			}
		}
	}
	return ids, nil
}

func matches(opts *storage.ListOptions, start, end time.Time, recurring bool, parentID string, isException bool) bool {
	if opts == nil {
		return true
	}
	if !storage.Overlaps(start, end, opts.From, opts.To) {
		return false
	}
	if opts.Recurring != nil && *opts.Recurring != recurring {
		return false
	}
	if opts.MastersOnly && parentID != "" {
		return false
	}
	if opts.ExcludeExceptions && isException {
		return false
	}
	return true
}
