package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

func TestFixedStepDays(t *testing.T) {
	tests := []struct {
		name  string
		rule  string
		days  int
		fixed bool
	}{
		{"daily", "FREQ=DAILY", 1, true},
		{"daily interval", "FREQ=DAILY;INTERVAL=3", 3, true},
		{"weekly", "FREQ=WEEKLY;COUNT=5", 7, true},
		{"weekly interval", "FREQ=WEEKLY;INTERVAL=2", 14, true},
		{"monthly not fixed", "FREQ=MONTHLY", 0, false},
		{"byday not fixed", "FREQ=WEEKLY;BYDAY=MO,FR", 0, false},
		{"bymonthday not fixed", "FREQ=DAILY;BYMONTHDAY=1", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := recurrence.Parse(tt.rule)
			require.NoError(t, err)
			days, ok := fixedStepDays(rule)
			assert.Equal(t, tt.fixed, ok)
			if tt.fixed {
				assert.Equal(t, tt.days, days)
			}
		})
	}
}

// The remaining tests need a live database; set SCHEDKIT_TEST_DATABASE_URL
// to run them.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SCHEDKIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SCHEDKIT_TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func createDailyEvent(t *testing.T, s *Store, ruleText string, start time.Time) *storage.Event {
	t.Helper()
	ctx := context.Background()
	cal := &storage.Calendar{Name: "accel"}
	require.NoError(t, s.CreateCalendar(ctx, cal))

	rule, err := recurrence.Parse(ruleText)
	require.NoError(t, err)
	event := &storage.Event{
		CalendarID: cal.ID, Title: "series",
		StartTime: start, EndTime: start.Add(time.Hour),
		Rule: rule,
	}
	require.NoError(t, s.CreateEvent(ctx, event))
	return event
}

func TestOccurrences_MatchesInProcessExpansion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	event := createDailyEvent(t, s, "FREQ=DAILY;COUNT=10", start)

	from := start.AddDate(0, 0, 2)
	to := start.AddDate(0, 1, 0)
	occs, served, err := s.Occurrences(ctx, storage.KindEvent, event.ID, from, to, 100)
	require.NoError(t, err)
	require.True(t, served)

	expanded, err := recurrence.Expand(event.Rule, event.StartTime, event.EndTime, recurrence.ExpandOptions{
		From: from, To: to, MaxOccurrences: 100,
	})
	require.NoError(t, err)

	require.Len(t, occs, len(expanded))
	for i, occ := range occs {
		assert.True(t, occ.Start.Equal(expanded[i].Start))
		assert.True(t, occ.End.Equal(expanded[i].End))
	}
}

func TestOccurrences_CountChargedBeforeWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	event := createDailyEvent(t, s, "FREQ=DAILY;COUNT=5", start)

	// Window opens after 3 occurrences have consumed the budget.
	occs, served, err := s.Occurrences(ctx, storage.KindEvent, event.ID,
		start.AddDate(0, 0, 3), start.AddDate(0, 1, 0), 100)
	require.NoError(t, err)
	require.True(t, served)
	require.Len(t, occs, 2)
	assert.True(t, occs[0].Start.Equal(start.AddDate(0, 0, 3)))
}

func TestOccurrences_CapBoundsReturnedSetOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Uncounted rule anchored far before the window: the cap must bound
	// only the rows returned, not the steps generated to reach the window.
	start := time.Date(1990, 1, 1, 9, 0, 0, 0, time.UTC)
	event := createDailyEvent(t, s, "FREQ=DAILY", start)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	occs, served, err := s.Occurrences(ctx, storage.KindEvent, event.ID, from, to, 10000)
	require.NoError(t, err)
	require.True(t, served)
	require.Len(t, occs, 7)
	assert.True(t, occs[0].Start.Equal(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))
}

func TestOccurrences_ByDayNotServed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	event := createDailyEvent(t, s, "FREQ=WEEKLY;BYDAY=MO,FR;COUNT=5", start)

	_, served, err := s.Occurrences(ctx, storage.KindEvent, event.ID,
		start, start.AddDate(0, 1, 0), 100)
	require.NoError(t, err)
	assert.False(t, served)
}
