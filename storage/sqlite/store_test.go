package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "schedkit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newCalendar(t *testing.T, s *Store) *storage.Calendar {
	t.Helper()
	cal := &storage.Calendar{Name: "test"}
	require.NoError(t, s.CreateCalendar(context.Background(), cal))
	return cal
}

func TestCalendarCRUD(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	cal := &storage.Calendar{Name: "rooms", ManageAvailableWindows: true}
	require.NoError(t, s.CreateCalendar(ctx, cal))

	got, err := s.GetCalendar(ctx, cal.ID)
	require.NoError(t, err)
	assert.Equal(t, "rooms", got.Name)
	assert.True(t, got.ManageAvailableWindows)

	err = s.CreateCalendar(ctx, &storage.Calendar{ID: cal.ID, Name: "dup"})
	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storage.ErrAlreadyExists, serr.Type)

	_, err = s.GetCalendar(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))
}

func TestEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cal := newCalendar(t, s)

	rule, err := recurrence.Parse("FREQ=WEEKLY;BYDAY=MO,WE;COUNT=8")
	require.NoError(t, err)

	// Sub-second precision must survive the text column.
	start := time.Date(2025, 1, 6, 9, 0, 0, 123456789, time.UTC)
	recTime := start.AddDate(0, 0, 2)
	event := &storage.Event{
		CalendarID:     cal.ID,
		Title:          "standup",
		Description:    "daily sync",
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		Rule:           rule,
		RecurrenceTime: &recTime,
		IsException:    true,
		ParentID:       "series",
		BulkParentID:   "bulk",
		Attendees:      []string{"alice@example.com", "bob@example.com"},
		ResourceIDs:    []string{"room-1"},
	}
	require.NoError(t, s.CreateEvent(ctx, event))
	require.NotEmpty(t, event.ID)

	got, err := s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.Title, got.Title)
	assert.Equal(t, event.Description, got.Description)
	assert.True(t, got.StartTime.Equal(start))
	assert.True(t, got.EndTime.Equal(event.EndTime))
	require.NotNil(t, got.Rule)
	assert.Equal(t, rule.String(), got.Rule.String())
	require.NotNil(t, got.RecurrenceTime)
	assert.True(t, got.RecurrenceTime.Equal(recTime))
	assert.True(t, got.IsException)
	assert.Equal(t, "series", got.ParentID)
	assert.Equal(t, "bulk", got.BulkParentID)
	assert.Equal(t, event.Attendees, got.Attendees)
	assert.Equal(t, event.ResourceIDs, got.ResourceIDs)

	got.Title = "renamed"
	got.Rule = nil
	require.NoError(t, s.UpdateEvent(ctx, got))
	got, err = s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.Rule)

	require.NoError(t, s.DeleteEvent(ctx, event.ID))
	_, err = s.GetEvent(ctx, event.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestUpdateMissingEvent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cal := newCalendar(t, s)

	err := s.UpdateEvent(ctx, &storage.Event{
		ID: "missing", CalendarID: cal.ID,
		StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
	})
	assert.True(t, storage.IsNotFound(err))
	assert.True(t, storage.IsNotFound(s.DeleteEvent(ctx, "missing")))
}

func TestListEventsFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cal := newCalendar(t, s)

	rule, err := recurrence.Parse("FREQ=DAILY;COUNT=5")
	require.NoError(t, err)

	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	master := &storage.Event{
		CalendarID: cal.ID, Title: "recurring",
		StartTime: day.Add(9 * time.Hour), EndTime: day.Add(10 * time.Hour),
		Rule: rule,
	}
	single := &storage.Event{
		CalendarID: cal.ID, Title: "single",
		StartTime: day.Add(12 * time.Hour), EndTime: day.Add(13 * time.Hour),
	}
	override := &storage.Event{
		CalendarID: cal.ID, Title: "override",
		StartTime: day.Add(15 * time.Hour), EndTime: day.Add(16 * time.Hour),
		ParentID: "someone", IsException: true,
	}
	require.NoError(t, s.CreateEvent(ctx, master))
	require.NoError(t, s.CreateEvent(ctx, single))
	require.NoError(t, s.CreateEvent(ctx, override))

	recurring := true
	events, err := s.ListEvents(ctx, cal.ID, &storage.ListOptions{Recurring: &recurring})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, master.ID, events[0].ID)

	events, err = s.ListEvents(ctx, cal.ID, &storage.ListOptions{MastersOnly: true})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.ListEvents(ctx, cal.ID, &storage.ListOptions{ExcludeExceptions: true})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	from := day.Add(11 * time.Hour)
	to := day.Add(14 * time.Hour)
	events, err = s.ListEvents(ctx, cal.ID, &storage.ListOptions{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, single.ID, events[0].ID)

	// Sorted by start time.
	events, err = s.ListEvents(ctx, cal.ID, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, master.ID, events[0].ID)
	assert.Equal(t, override.ID, events[2].ID)
}

func TestUpsertExceptionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	date := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	first := &storage.Exception{
		Kind: storage.KindEvent, ParentID: "parent", Date: date, Cancelled: true,
	}
	require.NoError(t, s.UpsertException(ctx, first))

	// Same (kind, parent, date) key: the conflict clause updates the row
	// and the caller's ID is synced to the stored one.
	second := &storage.Exception{
		Kind: storage.KindEvent, ParentID: "parent", Date: date,
		Cancelled: false, ModifiedID: "override",
	}
	require.NoError(t, s.UpsertException(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	list, err := s.ListExceptions(ctx, storage.KindEvent, "parent")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Cancelled)
	assert.Equal(t, "override", list[0].ModifiedID)

	got, err := s.GetException(ctx, storage.KindEvent, "parent", date)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.Date.Equal(date))

	require.NoError(t, s.DeleteExceptions(ctx, storage.KindEvent, "parent"))
	_, err = s.GetException(ctx, storage.KindEvent, "parent", date)
	assert.True(t, storage.IsNotFound(err))
}

func TestExceptionsScopedByKind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	date := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertException(ctx, &storage.Exception{
		Kind: storage.KindEvent, ParentID: "p", Date: date, Cancelled: true,
	}))
	require.NoError(t, s.UpsertException(ctx, &storage.Exception{
		Kind: storage.KindBlockedTime, ParentID: "p", Date: date, Cancelled: true,
	}))

	events, err := s.ListExceptions(ctx, storage.KindEvent, "p")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	blocked, err := s.ListExceptions(ctx, storage.KindBlockedTime, "p")
	require.NoError(t, err)
	assert.Len(t, blocked, 1)
}

func TestListContinuationIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cal := newCalendar(t, s)

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	parent := &storage.BlockedTime{
		CalendarID: cal.ID, Reason: "maintenance",
		StartTime: start, EndTime: start.Add(time.Hour),
	}
	require.NoError(t, s.CreateBlockedTime(ctx, parent))

	cont := &storage.BlockedTime{
		CalendarID: cal.ID, Reason: "maintenance", BulkParentID: parent.ID,
		StartTime: start.AddDate(0, 0, 3), EndTime: start.AddDate(0, 0, 3).Add(time.Hour),
	}
	require.NoError(t, s.CreateBlockedTime(ctx, cont))

	ids, err := s.ListContinuationIDs(ctx, storage.KindBlockedTime, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{cont.ID}, ids)

	ids, err = s.ListContinuationIDs(ctx, storage.KindEvent, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBulkModificationRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	mod := &storage.BulkModification{
		Kind: storage.KindEvent, ParentID: "p",
		StartDate: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		Cancelled: true,
	}
	require.NoError(t, s.CreateBulkModification(ctx, mod))
	require.NotEmpty(t, mod.ID)

	mods, err := s.ListBulkModifications(ctx, storage.KindEvent, "p")
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.True(t, mods[0].Cancelled)
	assert.True(t, mods[0].StartDate.Equal(mod.StartDate))
}
