package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/samber/mo"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// Entity is the capability constraint the generic series logic works
// against: a recurring entity that can mint transient instances of itself.
type Entity[T any] interface {
	storage.Recurrer
	Instance(start, end time.Time) T
}

// ResolveOptions controls occurrence resolution for one series.
type ResolveOptions struct {
	// From/To bound the half-open generation window [From, To).
	From time.Time
	To   time.Time

	// IncludeSelf emits the master entity itself for the occurrence that
	// coincides with its stored span. When false, that slot is synthesized
	// as a transient instance like any other occurrence.
	IncludeSelf bool

	// IncludeExceptions resolves modified occurrences to their override
	// entities. When false, modified occurrences are omitted entirely,
	// matching cancelled ones.
	IncludeExceptions bool

	// MaxOccurrences overrides the configured cap when positive.
	MaxOccurrences int

	// Precomputed supplies occurrence descriptors computed elsewhere,
	// bypassing both the accelerator source and in-process expansion.
	Precomputed mo.Option[[]storage.Occurrence]
}

func (o ResolveOptions) cap(fallback int) int {
	if o.MaxOccurrences > 0 {
		return o.MaxOccurrences
	}
	return fallback
}

// rawOccurrences produces the unresolved occurrence descriptors for one
// recurring master, trying precomputed results, then the configured
// accelerator source, then in-process expansion.
func (s *Service) rawOccurrences(ctx context.Context, master storage.Recurrer, opts ResolveOptions) ([]storage.Occurrence, error) {
	if pre, ok := opts.Precomputed.Get(); ok {
		return pre, nil
	}

	max := opts.cap(s.config.MaxOccurrences)
	if s.config.Source != nil {
		occs, served, err := s.config.Source.Occurrences(ctx, master.EntityKind(), master.EntityID(), opts.From, opts.To, max)
		if err != nil {
			return nil, err
		}
		if served {
			return occs, nil
		}
	}

	start, end := master.Period()
	expanded, err := recurrence.Expand(master.RecurrenceRule(), start, end, recurrence.ExpandOptions{
		From:           opts.From,
		To:             opts.To,
		MaxOccurrences: max,
	})
	if err != nil {
		return nil, err
	}

	occs := make([]storage.Occurrence, len(expanded))
	for i, occ := range expanded {
		occs[i] = storage.Occurrence{
			Start:    occ.Start,
			End:      occ.End,
			EntityID: master.EntityID(),
			Kind:     master.EntityKind(),
		}
	}
	return occs, nil
}

// resolveSeries expands one recurring master inside the window and applies
// its per-date exceptions. Cancelled occurrences are always omitted;
// modified occurrences resolve to their override entity when
// IncludeExceptions is set and are omitted otherwise.
func resolveSeries[T Entity[T]](ctx context.Context, s *Service, ops entityOps[T], master T, opts ResolveOptions) ([]T, error) {
	if master.RecurrenceRule() == nil {
		return nil, notRecurringError(ops.kind)
	}

	raw, err := s.rawOccurrences(ctx, master, opts)
	if err != nil {
		return nil, err
	}

	exceptions, err := s.store.ListExceptions(ctx, ops.kind, master.EntityID())
	if err != nil {
		return nil, err
	}
	byDate := make(map[time.Time]*storage.Exception, len(exceptions))
	for _, exc := range exceptions {
		byDate[exc.Date.UTC()] = exc
	}

	masterStart, masterEnd := master.Period()

	var resolved []T
	for _, occ := range raw {
		if opts.IncludeSelf && occ.Start.Equal(masterStart) && occ.End.Equal(masterEnd) {
			resolved = append(resolved, master)
			continue
		}

		if exc, ok := byDate[occ.Start.UTC()]; ok {
			if exc.Cancelled {
				continue
			}
			if !opts.IncludeExceptions {
				continue
			}
			modified, err := ops.get(ctx, exc.ModifiedID)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, modified)
			continue
		}

		resolved = append(resolved, master.Instance(occ.Start, occ.End))
	}
	return resolved, nil
}

// EventOccurrences resolves the occurrences of a recurring event inside
// [opts.From, opts.To).
func (s *Service) EventOccurrences(ctx context.Context, eventID string, opts ResolveOptions) ([]*storage.Event, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return resolveSeries(ctx, s, s.eventOps(), event, opts)
}

// BlockedTimeOccurrences resolves the occurrences of a recurring blocked
// time inside [opts.From, opts.To).
func (s *Service) BlockedTimeOccurrences(ctx context.Context, blockedID string, opts ResolveOptions) ([]*storage.BlockedTime, error) {
	blocked, err := s.store.GetBlockedTime(ctx, blockedID)
	if err != nil {
		return nil, err
	}
	return resolveSeries(ctx, s, s.blockedOps(), blocked, opts)
}

// AvailableTimeOccurrences resolves the occurrences of a recurring
// available time inside [opts.From, opts.To).
func (s *Service) AvailableTimeOccurrences(ctx context.Context, availableID string, opts ResolveOptions) ([]*storage.AvailableTime, error) {
	available, err := s.store.GetAvailableTime(ctx, availableID)
	if err != nil {
		return nil, err
	}
	return resolveSeries(ctx, s, s.availableOps(), available, opts)
}

// occurrencesWithContinuations resolves a series together with every
// continuation series chained to it through bulk modifications, merged in
// chronological order and truncated to the occurrence cap.
func occurrencesWithContinuations[T Entity[T]](ctx context.Context, s *Service, ops entityOps[T], masterID string, opts ResolveOptions) ([]T, error) {
	max := opts.cap(s.config.MaxOccurrences)

	var all []T
	seen := map[string]bool{}
	queue := []string{masterID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		master, err := ops.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if master.RecurrenceRule() == nil {
			// A continuation may have degenerated to a single entity.
			if id == masterID {
				return nil, notRecurringError(ops.kind)
			}
			start, end := master.Period()
			if start.Before(opts.To) && end.After(opts.From) {
				all = append(all, master)
			}
		} else {
			resolved, err := resolveSeries(ctx, s, ops, master, opts)
			if err != nil {
				return nil, err
			}
			all = append(all, resolved...)
		}

		next, err := s.store.ListContinuationIDs(ctx, ops.kind, id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, next...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		si, _ := all[i].Period()
		sj, _ := all[j].Period()
		return si.Before(sj)
	})
	if len(all) > max {
		all = all[:max]
	}
	return all, nil
}

// EventOccurrencesWithContinuations resolves an event series plus every
// continuation series created by bulk modifications.
func (s *Service) EventOccurrencesWithContinuations(ctx context.Context, eventID string, opts ResolveOptions) ([]*storage.Event, error) {
	return occurrencesWithContinuations(ctx, s, s.eventOps(), eventID, opts)
}

// BlockedTimeOccurrencesWithContinuations resolves a blocked-time series
// plus its continuations.
func (s *Service) BlockedTimeOccurrencesWithContinuations(ctx context.Context, blockedID string, opts ResolveOptions) ([]*storage.BlockedTime, error) {
	return occurrencesWithContinuations(ctx, s, s.blockedOps(), blockedID, opts)
}

// AvailableTimeOccurrencesWithContinuations resolves an available-time
// series plus its continuations.
func (s *Service) AvailableTimeOccurrencesWithContinuations(ctx context.Context, availableID string, opts ResolveOptions) ([]*storage.AvailableTime, error) {
	return occurrencesWithContinuations(ctx, s, s.availableOps(), availableID, opts)
}

// NextEventOccurrence returns the first occurrence of a recurring event
// strictly after the given time.
func (s *Service) NextEventOccurrence(ctx context.Context, eventID string, after time.Time) (mo.Option[recurrence.Occurrence], error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return mo.None[recurrence.Occurrence](), err
	}
	if event.Rule == nil {
		return mo.None[recurrence.Occurrence](), notRecurringError(storage.KindEvent)
	}
	return recurrence.NextOccurrence(event.Rule, event.StartTime, event.EndTime, after)
}

// EventsInRange aggregates every event occurrence on a calendar inside
// [from, to): plain events as-is plus recurring masters expanded with their
// exceptions applied. Results are sorted by start time and truncated to the
// configured occurrence cap.
func (s *Service) EventsInRange(ctx context.Context, calendarID string, from, to time.Time) ([]*storage.Event, error) {
	recurring := true
	masters, err := s.store.ListEvents(ctx, calendarID, &storage.ListOptions{
		Recurring:   &recurring,
		MastersOnly: true,
	})
	if err != nil {
		return nil, err
	}

	plain := false
	single, err := s.store.ListEvents(ctx, calendarID, &storage.ListOptions{
		From:              &from,
		To:                &to,
		Recurring:         &plain,
		MastersOnly:       true,
		ExcludeExceptions: true,
	})
	if err != nil {
		return nil, err
	}

	events := append([]*storage.Event(nil), single...)
	for _, master := range masters {
		resolved, err := resolveSeries(ctx, s, s.eventOps(), master, ResolveOptions{
			From:              from,
			To:                to,
			IncludeSelf:       true,
			IncludeExceptions: true,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, resolved...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartTime.Before(events[j].StartTime)
	})
	if len(events) > s.config.MaxOccurrences {
		events = events[:s.config.MaxOccurrences]
	}
	return events, nil
}
