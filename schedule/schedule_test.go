package schedule

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/storage"
	"github.com/schedkit/schedkit/storage/memory"
)

var anchor = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *storage.Calendar) {
	t.Helper()
	svc := New(memory.New())
	cal := &storage.Calendar{Name: "team"}
	require.NoError(t, svc.Store().CreateCalendar(context.Background(), cal))
	return svc, cal
}

func newManagedService(t *testing.T) (*Service, *storage.Calendar) {
	t.Helper()
	svc := New(memory.New())
	cal := &storage.Calendar{Name: "rooms", ManageAvailableWindows: true}
	require.NoError(t, svc.Store().CreateCalendar(context.Background(), cal))
	return svc, cal
}

func createDailyEvent(t *testing.T, svc *Service, calID string, count int) *storage.Event {
	t.Helper()
	event, err := svc.CreateEvent(context.Background(), calID, EventInput{
		Title:          "standup",
		StartTime:      anchor,
		EndTime:        anchor.Add(30 * time.Minute),
		RecurrenceRule: "FREQ=DAILY;COUNT=" + strconv.Itoa(count),
	})
	require.NoError(t, err)
	return event
}

func eventStarts(events []*storage.Event) []time.Time {
	out := make([]time.Time, len(events))
	for i, e := range events {
		out[i] = e.StartTime
	}
	return out
}

func fullWindow() ResolveOptions {
	return ResolveOptions{
		From:              anchor.AddDate(0, -1, 0),
		To:                anchor.AddDate(0, 1, 0),
		IncludeSelf:       true,
		IncludeExceptions: true,
	}
}

func TestEventOccurrences_PlainSeries(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	occs, err := svc.EventOccurrences(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	require.Len(t, occs, 5)

	// First slot is the master itself, the rest are transient instances.
	assert.Equal(t, event.ID, occs[0].ID)
	assert.Empty(t, occs[1].ID)
	assert.Equal(t, event.ID, occs[1].ParentID)
	require.NotNil(t, occs[1].RecurrenceTime)
	assert.Equal(t, anchor.AddDate(0, 0, 1), *occs[1].RecurrenceTime)
}

func TestEventOccurrences_WithoutSelf(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 3)

	opts := fullWindow()
	opts.IncludeSelf = false
	occs, err := svc.EventOccurrences(ctx, event.ID, opts)
	require.NoError(t, err)

	// The master's own slot is still emitted, as a transient instance.
	assert.Equal(t, []time.Time{
		anchor,
		anchor.AddDate(0, 0, 1),
		anchor.AddDate(0, 0, 2),
	}, eventStarts(occs))
	for _, occ := range occs {
		assert.Equal(t, event.ID, occ.ParentID)
		require.NotNil(t, occ.RecurrenceTime)
	}
}

func TestEventOccurrences_SelfEmissionBeatsStoredException(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 3)

	// A cancellation written straight to the store for the master's own
	// date must not shadow self-emission.
	require.NoError(t, svc.Store().UpsertException(ctx, &storage.Exception{
		Kind: storage.KindEvent, ParentID: event.ID, Date: anchor, Cancelled: true,
	}))

	occs, err := svc.EventOccurrences(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	require.Len(t, occs, 3)
	assert.Equal(t, event.ID, occs[0].ID)

	// Without self-emission the slot falls through to the exception and
	// is cancelled.
	opts := fullWindow()
	opts.IncludeSelf = false
	occs, err = svc.EventOccurrences(ctx, event.ID, opts)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		anchor.AddDate(0, 0, 1),
		anchor.AddDate(0, 0, 2),
	}, eventStarts(occs))
}

func TestEventOccurrences_NotRecurring(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event, err := svc.CreateEvent(ctx, cal.ID, EventInput{
		Title: "one-off", StartTime: anchor, EndTime: anchor.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = svc.EventOccurrences(ctx, event.ID, fullWindow())
	assert.ErrorIs(t, err, ErrNotRecurring)
}

func TestCancelledOccurrenceOmittedEitherWay(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	// Cancel the second occurrence.
	cancelled := anchor.AddDate(0, 0, 1)
	exc, err := svc.CreateEventException(ctx, event.ID, cancelled, nil)
	require.NoError(t, err)
	require.NotNil(t, exc)
	assert.True(t, exc.Cancelled)

	for _, include := range []bool{true, false} {
		opts := fullWindow()
		opts.IncludeExceptions = include
		occs, err := svc.EventOccurrences(ctx, event.ID, opts)
		require.NoError(t, err)
		assert.Len(t, occs, 4)
		for _, occ := range occs {
			assert.NotEqual(t, cancelled, occ.StartTime)
		}
	}
}

func TestModifiedOccurrenceResolution(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	// Move the third occurrence from 09:00 to 14:00.
	original := anchor.AddDate(0, 0, 2)
	moved := original.Add(5 * time.Hour)
	movedEnd := moved.Add(30 * time.Minute)
	exc, err := svc.CreateEventException(ctx, event.ID, original, &EventModification{
		StartTime: &moved,
		EndTime:   &movedEnd,
	})
	require.NoError(t, err)
	require.NotEmpty(t, exc.ModifiedID)

	t.Run("with exceptions the new time appears once", func(t *testing.T) {
		occs, err := svc.EventOccurrences(ctx, event.ID, fullWindow())
		require.NoError(t, err)
		require.Len(t, occs, 5)

		var hits int
		for _, occ := range occs {
			assert.NotEqual(t, original, occ.StartTime)
			if occ.StartTime.Equal(moved) {
				hits++
				assert.True(t, occ.IsException)
				assert.Equal(t, exc.ModifiedID, occ.ID)
			}
		}
		assert.Equal(t, 1, hits)
	})

	t.Run("without exceptions the slot is absent", func(t *testing.T) {
		opts := fullWindow()
		opts.IncludeExceptions = false
		occs, err := svc.EventOccurrences(ctx, event.ID, opts)
		require.NoError(t, err)
		assert.Len(t, occs, 4)
		for _, occ := range occs {
			assert.NotEqual(t, original, occ.StartTime)
			assert.NotEqual(t, moved, occ.StartTime)
		}
	})
}

func TestExceptionRecreationUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	date := anchor.AddDate(0, 0, 1)
	first, err := svc.CreateEventException(ctx, event.ID, date, nil)
	require.NoError(t, err)

	// Re-creating for the same date modifies the existing record.
	moved := date.Add(time.Hour)
	movedEnd := moved.Add(30 * time.Minute)
	second, err := svc.CreateEventException(ctx, event.ID, date, &EventModification{
		StartTime: &moved, EndTime: &movedEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Cancelled)

	list, err := svc.Store().ListExceptions(ctx, storage.KindEvent, event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExceptionMisalignedDateRejected(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	_, err := svc.CreateEventException(ctx, event.ID, anchor.Add(17*time.Minute), nil)
	assert.ErrorIs(t, err, ErrOccurrenceMismatch)

	// Past the end of the series is misaligned too.
	_, err = svc.CreateEventException(ctx, event.ID, anchor.AddDate(0, 0, 30), nil)
	assert.ErrorIs(t, err, ErrOccurrenceMismatch)
}

func TestMasterDateCancellation(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	exc, err := svc.CreateEventException(ctx, event.ID, anchor, nil)
	require.NoError(t, err)
	assert.Nil(t, exc)

	// The master is gone and the series continues from the next
	// occurrence with one occurrence consumed.
	_, err = svc.Store().GetEvent(ctx, event.ID)
	assert.True(t, storage.IsNotFound(err))

	ids, err := svc.Store().ListContinuationIDs(ctx, storage.KindEvent, event.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	cont, err := svc.Store().GetEvent(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, anchor.AddDate(0, 0, 1), cont.StartTime)
	require.NotNil(t, cont.Rule)
	assert.Equal(t, 4, cont.Rule.Count)
}

func TestMasterDateModification(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	// A leftover exception from the old series must be dropped by the
	// transition.
	_, err := svc.CreateEventException(ctx, event.ID, anchor.AddDate(0, 0, 3), nil)
	require.NoError(t, err)

	title := "moved standup"
	exc, err := svc.CreateEventException(ctx, event.ID, anchor, &EventModification{Title: &title})
	require.NoError(t, err)
	assert.Nil(t, exc)

	// The master is demoted to a single non-recurring entity with the
	// modification applied.
	master, err := svc.Store().GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Nil(t, master.Rule)
	assert.Equal(t, title, master.Title)

	exceptions, err := svc.Store().ListExceptions(ctx, storage.KindEvent, event.ID)
	require.NoError(t, err)
	assert.Empty(t, exceptions)

	ids, err := svc.Store().ListContinuationIDs(ctx, storage.KindEvent, event.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	cont, err := svc.Store().GetEvent(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "standup", cont.Title)
	assert.Equal(t, 4, cont.Rule.Count)
}

func TestBulkModification(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	// Move everything from the fourth occurrence one hour later.
	splitDate := anchor.AddDate(0, 0, 3)
	newStart := splitDate.Add(time.Hour)
	newEnd := newStart.Add(30 * time.Minute)
	record, err := svc.CreateEventBulkModification(ctx, event.ID, splitDate, &EventModification{
		StartTime: &newStart, EndTime: &newEnd,
	})
	require.NoError(t, err)
	assert.False(t, record.Cancelled)
	require.NotEmpty(t, record.ContinuationID)

	// The parent rule is truncated to the head.
	master, err := svc.Store().GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, master.Rule)
	assert.Equal(t, 0, master.Rule.Count)
	require.NotNil(t, master.Rule.Until)
	assert.Equal(t, anchor.AddDate(0, 0, 2), *master.Rule.Until)

	cont, err := svc.Store().GetEvent(ctx, record.ContinuationID)
	require.NoError(t, err)
	assert.Equal(t, newStart, cont.StartTime)
	assert.Equal(t, event.ID, cont.BulkParentID)
	require.NotNil(t, cont.Rule)
	assert.Equal(t, 2, cont.Rule.Count)

	// The merged view sees all five occurrences without double counting.
	occs, err := svc.EventOccurrencesWithContinuations(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		anchor,
		anchor.AddDate(0, 0, 1),
		anchor.AddDate(0, 0, 2),
		newStart,
		newStart.AddDate(0, 0, 1),
	}, eventStarts(occs))
}

func TestBulkCancellation(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	record, err := svc.CreateEventBulkModification(ctx, event.ID, anchor.AddDate(0, 0, 3), nil)
	require.NoError(t, err)
	assert.True(t, record.Cancelled)
	assert.Empty(t, record.ContinuationID)

	occs, err := svc.EventOccurrencesWithContinuations(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		anchor,
		anchor.AddDate(0, 0, 1),
		anchor.AddDate(0, 0, 2),
	}, eventStarts(occs))
}

func TestBulkModificationAtFirstOccurrenceReplacesParent(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	title := "all new"
	record, err := svc.CreateEventBulkModification(ctx, event.ID, anchor, &EventModification{Title: &title})
	require.NoError(t, err)

	_, err = svc.Store().GetEvent(ctx, event.ID)
	assert.True(t, storage.IsNotFound(err))

	cont, err := svc.Store().GetEvent(ctx, record.ContinuationID)
	require.NoError(t, err)
	assert.Equal(t, title, cont.Title)
	assert.Equal(t, 5, cont.Rule.Count)
}

func TestEventsInRange(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	createDailyEvent(t, svc, cal.ID, 3)

	single, err := svc.CreateEvent(ctx, cal.ID, EventInput{
		Title:     "review",
		StartTime: anchor.AddDate(0, 0, 1).Add(3 * time.Hour),
		EndTime:   anchor.AddDate(0, 0, 1).Add(4 * time.Hour),
	})
	require.NoError(t, err)

	events, err := svc.EventsInRange(ctx, cal.ID, anchor, anchor.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 4)

	// Sorted by start; the one-off lands between day-two and day-three
	// occurrences.
	assert.Equal(t, single.ID, events[2].ID)
}

func TestNextEventOccurrence(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 3)

	next, err := svc.NextEventOccurrence(ctx, event.ID, anchor)
	require.NoError(t, err)
	occ, ok := next.Get()
	require.True(t, ok)
	assert.Equal(t, anchor.AddDate(0, 0, 1), occ.Start)

	next, err = svc.NextEventOccurrence(ctx, event.ID, anchor.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.True(t, next.IsAbsent())
}

type fixedSource struct {
	occs   []storage.Occurrence
	served bool
	calls  int
}

func (f *fixedSource) Occurrences(_ context.Context, kind storage.EntityKind, entityID string, _, _ time.Time, _ int) ([]storage.Occurrence, bool, error) {
	f.calls++
	if !f.served {
		return nil, false, nil
	}
	out := make([]storage.Occurrence, len(f.occs))
	for i, occ := range f.occs {
		occ.EntityID = entityID
		occ.Kind = kind
		out[i] = occ
	}
	return out, true, nil
}

func TestOccurrenceSourceAccelerator(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cal := &storage.Calendar{Name: "team"}
	require.NoError(t, store.CreateCalendar(ctx, cal))

	source := &fixedSource{
		served: true,
		occs: []storage.Occurrence{
			{Start: anchor, End: anchor.Add(30 * time.Minute)},
			{Start: anchor.AddDate(0, 0, 1), End: anchor.AddDate(0, 0, 1).Add(30 * time.Minute)},
		},
	}
	svc := NewWithConfig(store, Config{Source: source})
	event := createDailyEvent(t, svc, cal.ID, 5)

	occs, err := svc.EventOccurrences(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	assert.Len(t, occs, 2)
	assert.Equal(t, 1, source.calls)

	// A source that cannot serve falls back to in-process expansion.
	source.served = false
	occs, err = svc.EventOccurrences(ctx, event.ID, fullWindow())
	require.NoError(t, err)
	assert.Len(t, occs, 5)
}

func TestPrecomputedOccurrencesBypassExpansion(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)
	event := createDailyEvent(t, svc, cal.ID, 5)

	opts := fullWindow()
	opts.Precomputed = mo.Some([]storage.Occurrence{
		{Start: anchor, End: anchor.Add(30 * time.Minute), EntityID: event.ID, Kind: storage.KindEvent},
	})
	occs, err := svc.EventOccurrences(ctx, event.ID, opts)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, event.ID, occs[0].ID)
}

func TestBlockedTimeExceptions(t *testing.T) {
	ctx := context.Background()
	svc, cal := newService(t)

	blocked, err := svc.CreateBlockedTime(ctx, cal.ID, BlockedTimeInput{
		Reason:         "maintenance",
		StartTime:      anchor,
		EndTime:        anchor.Add(time.Hour),
		RecurrenceRule: "FREQ=WEEKLY;COUNT=4",
	})
	require.NoError(t, err)

	_, err = svc.CreateBlockedTimeException(ctx, blocked.ID, anchor.AddDate(0, 0, 7), nil)
	require.NoError(t, err)

	occs, err := svc.BlockedTimeOccurrences(ctx, blocked.ID, fullWindow())
	require.NoError(t, err)
	assert.Len(t, occs, 3)
}
