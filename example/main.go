// Command example demonstrates the schedule service end to end: a
// recurring event, a cancelled occurrence, a series split and an
// availability query. The backing store is picked from the environment:
// DATABASE_URL selects PostgreSQL (with database-side occurrence
// generation), SCHEDKIT_DB selects a SQLite file, anything else runs on
// the in-memory store.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/joho/godotenv"

	"github.com/schedkit/schedkit/ical"
	"github.com/schedkit/schedkit/schedule"
	"github.com/schedkit/schedkit/storage"
	"github.com/schedkit/schedkit/storage/memory"
	"github.com/schedkit/schedkit/storage/postgres"
	"github.com/schedkit/schedkit/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	store, source, cleanup, err := openStore(ctx)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer cleanup()

	svc := schedule.NewWithConfig(store, schedule.Config{
		Source: source,
		Logger: logger,
	})

	cal := &storage.Calendar{Name: "team"}
	if err := store.CreateCalendar(ctx, cal); err != nil {
		log.Fatalf("create calendar: %v", err)
	}

	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	event, err := svc.CreateEvent(ctx, cal.ID, schedule.EventInput{
		Title:          "standup",
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
		Attendees:      []string{"alice@example.com", "bob@example.com"},
	})
	if err != nil {
		log.Fatalf("create event: %v", err)
	}

	// Cancel the third occurrence.
	if _, err := svc.CreateEventException(ctx, event.ID, start.AddDate(0, 0, 2), nil); err != nil {
		log.Fatalf("cancel occurrence: %v", err)
	}

	// Move everything from the sixth occurrence one hour later.
	newStart := start.AddDate(0, 0, 5).Add(time.Hour)
	newEnd := newStart.Add(30 * time.Minute)
	if _, err := svc.CreateEventBulkModification(ctx, event.ID, start.AddDate(0, 0, 5), &schedule.EventModification{
		StartTime: &newStart,
		EndTime:   &newEnd,
	}); err != nil {
		log.Fatalf("bulk modification: %v", err)
	}

	occurrences, err := svc.EventOccurrencesWithContinuations(ctx, event.ID, schedule.ResolveOptions{
		From:              start,
		To:                start.AddDate(0, 1, 0),
		IncludeSelf:       true,
		IncludeExceptions: true,
	})
	if err != nil {
		log.Fatalf("resolve occurrences: %v", err)
	}
	fmt.Println("occurrences:")
	for _, occ := range occurrences {
		fmt.Printf("  %s - %s\n", occ.StartTime.Format(time.RFC3339), occ.EndTime.Format(time.RFC3339))
	}

	windows, err := svc.AvailabilityWindows(ctx, cal.ID, start, start.AddDate(0, 0, 1))
	if err != nil {
		log.Fatalf("availability: %v", err)
	}
	fmt.Println("availability on day one:")
	for _, w := range windows {
		fmt.Printf("  %s - %s (partial booking: %v)\n",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.CanBookPartially)
	}

	// Export the truncated master as iCalendar.
	master, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		log.Fatalf("get event: %v", err)
	}
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(ical.EncodeEvents(cal.Name, []*storage.Event{master})); err != nil {
		log.Fatalf("encode calendar: %v", err)
	}
	fmt.Println("exported calendar:")
	fmt.Print(buf.String())
}

func openStore(ctx context.Context) (storage.Store, schedule.OccurrenceSource, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		s, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s.Close, nil
	}
	if path := os.Getenv("SCHEDKIT_DB"); path != "" {
		s, err := sqlite.New(path)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { s.Close() }, nil
	}
	return memory.New(), nil, func() {}, nil
}
