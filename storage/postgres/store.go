// Package postgres implements storage.Store on PostgreSQL via pgx. It also
// provides a schedule.OccurrenceSource that pushes occurrence generation
// for simple rules into the database with generate_series.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// Store implements storage.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and initializes the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithPool wraps an existing pool without running migrations.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendars (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		manage_windows BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS entities (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		calendar_id     TEXT NOT NULL REFERENCES calendars(id),
		title           TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		reason          TEXT NOT NULL DEFAULT '',
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL,
		rrule           TEXT NOT NULL DEFAULT '',
		parent_id       TEXT NOT NULL DEFAULT '',
		recurrence_time TIMESTAMPTZ,
		is_exception    BOOLEAN NOT NULL DEFAULT FALSE,
		bulk_parent_id  TEXT NOT NULL DEFAULT '',
		attendees       TEXT[] NOT NULL DEFAULT '{}',
		resource_ids    TEXT[] NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_entities_calendar ON entities (kind, calendar_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_entities_bulk_parent ON entities (kind, bulk_parent_id);

	CREATE TABLE IF NOT EXISTS exceptions (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		parent_id   TEXT NOT NULL,
		date        TIMESTAMPTZ NOT NULL,
		cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
		modified_id TEXT NOT NULL DEFAULT '',
		UNIQUE (kind, parent_id, date)
	);

	CREATE TABLE IF NOT EXISTS bulk_modifications (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		parent_id       TEXT NOT NULL,
		start_date      TIMESTAMPTZ NOT NULL,
		cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
		continuation_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_bulk_mods_parent ON bulk_modifications (kind, parent_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// ---------------------------------------------------------------------------
// Calendars
// ---------------------------------------------------------------------------

func (s *Store) CreateCalendar(ctx context.Context, cal *storage.Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendars (id, name, manage_windows) VALUES ($1, $2, $3)`,
		cal.ID, cal.Name, cal.ManageAvailableWindows,
	)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already exists", Err: err}
	}
	return nil
}

func (s *Store) GetCalendar(ctx context.Context, id string) (*storage.Calendar, error) {
	var cal storage.Calendar
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, manage_windows FROM calendars WHERE id = $1`, id,
	).Scan(&cal.ID, &cal.Name, &cal.ManageAvailableWindows)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar not found"}
	}
	if err != nil {
		return nil, err
	}
	return &cal, nil
}

func (s *Store) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, manage_windows FROM calendars ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*storage.Calendar
	for rows.Next() {
		var cal storage.Calendar
		if err := rows.Scan(&cal.ID, &cal.Name, &cal.ManageAvailableWindows); err != nil {
			return nil, err
		}
		calendars = append(calendars, &cal)
	}
	return calendars, rows.Err()
}

// ---------------------------------------------------------------------------
// Entities (shared table, discriminated by kind)
// ---------------------------------------------------------------------------

const entityColumns = `id, calendar_id, title, description, reason, start_time, end_time,
	rrule, parent_id, recurrence_time, is_exception, bulk_parent_id, attendees, resource_ids`

type entityRow struct {
	ID             string
	CalendarID     string
	Title          string
	Description    string
	Reason         string
	StartTime      time.Time
	EndTime        time.Time
	Rule           *recurrence.Rule
	ParentID       string
	RecurrenceTime *time.Time
	IsException    bool
	BulkParentID   string
	Attendees      []string
	ResourceIDs    []string
}

func (s *Store) insertEntity(ctx context.Context, kind storage.EntityKind, row *entityRow) error {
	rrule := ""
	if row.Rule != nil {
		rrule = row.Rule.String()
	}
	attendees := row.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	resources := row.ResourceIDs
	if resources == nil {
		resources = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (id, kind, calendar_id, title, description, reason,
		                       start_time, end_time, rrule, parent_id, recurrence_time,
		                       is_exception, bulk_parent_id, attendees, resource_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		row.ID, string(kind), row.CalendarID, row.Title, row.Description, row.Reason,
		row.StartTime, row.EndTime, rrule, row.ParentID, row.RecurrenceTime,
		row.IsException, row.BulkParentID, attendees, resources,
	)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: string(kind) + " already exists", Err: err}
	}
	return nil
}

func (s *Store) updateEntity(ctx context.Context, kind storage.EntityKind, row *entityRow) error {
	rrule := ""
	if row.Rule != nil {
		rrule = row.Rule.String()
	}
	attendees := row.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	resources := row.ResourceIDs
	if resources == nil {
		resources = []string{}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET calendar_id = $1, title = $2, description = $3, reason = $4,
		        start_time = $5, end_time = $6, rrule = $7, parent_id = $8,
		        recurrence_time = $9, is_exception = $10, bulk_parent_id = $11,
		        attendees = $12, resource_ids = $13
		 WHERE id = $14 AND kind = $15`,
		row.CalendarID, row.Title, row.Description, row.Reason,
		row.StartTime, row.EndTime, rrule, row.ParentID,
		row.RecurrenceTime, row.IsException, row.BulkParentID,
		attendees, resources,
		row.ID, string(kind),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return nil
}

func (s *Store) getEntity(ctx context.Context, kind storage.EntityKind, id string) (*entityRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 AND kind = $2`,
		id, string(kind),
	)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return e, err
}

func (s *Store) deleteEntity(ctx context.Context, kind storage.EntityKind, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM entities WHERE id = $1 AND kind = $2`, id, string(kind),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return nil
}

func (s *Store) listEntities(ctx context.Context, kind storage.EntityKind, calendarID string, opts *storage.ListOptions) ([]*entityRow, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE kind = $1 AND calendar_id = $2`
	args := []any{string(kind), calendarID}

	if opts != nil {
		if opts.To != nil {
			args = append(args, *opts.To)
			query += fmt.Sprintf(` AND start_time < $%d`, len(args))
		}
		if opts.From != nil {
			args = append(args, *opts.From)
			query += fmt.Sprintf(` AND end_time > $%d`, len(args))
		}
		if opts.Recurring != nil {
			if *opts.Recurring {
				query += ` AND rrule != ''`
			} else {
				query += ` AND rrule = ''`
			}
		}
		if opts.MastersOnly {
			query += ` AND parent_id = ''`
		}
		if opts.ExcludeExceptions {
			query += ` AND NOT is_exception`
		}
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*entityRow
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntity(scan func(dest ...any) error) (*entityRow, error) {
	var e entityRow
	var rrule string
	if err := scan(&e.ID, &e.CalendarID, &e.Title, &e.Description, &e.Reason,
		&e.StartTime, &e.EndTime, &rrule, &e.ParentID, &e.RecurrenceTime,
		&e.IsException, &e.BulkParentID, &e.Attendees, &e.ResourceIDs); err != nil {
		return nil, err
	}
	if rrule != "" {
		rule, err := recurrence.Parse(rrule)
		if err != nil {
			return nil, fmt.Errorf("parse rrule for entity %s: %w", e.ID, err)
		}
		e.Rule = rule
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (s *Store) CreateEvent(ctx context.Context, event *storage.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return s.insertEntity(ctx, storage.KindEvent, eventToRow(event))
}

func (s *Store) GetEvent(ctx context.Context, id string) (*storage.Event, error) {
	row, err := s.getEntity(ctx, storage.KindEvent, id)
	if err != nil {
		return nil, err
	}
	return rowToEvent(row), nil
}

func (s *Store) UpdateEvent(ctx context.Context, event *storage.Event) error {
	return s.updateEntity(ctx, storage.KindEvent, eventToRow(event))
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, storage.KindEvent, id)
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.Event, error) {
	rows, err := s.listEntities(ctx, storage.KindEvent, calendarID, opts)
	if err != nil {
		return nil, err
	}
	events := make([]*storage.Event, len(rows))
	for i, row := range rows {
		events[i] = rowToEvent(row)
	}
	return events, nil
}

func eventToRow(event *storage.Event) *entityRow {
	return &entityRow{
		ID:             event.ID,
		CalendarID:     event.CalendarID,
		Title:          event.Title,
		Description:    event.Description,
		StartTime:      event.StartTime,
		EndTime:        event.EndTime,
		Rule:           event.Rule,
		ParentID:       event.ParentID,
		RecurrenceTime: event.RecurrenceTime,
		IsException:    event.IsException,
		BulkParentID:   event.BulkParentID,
		Attendees:      event.Attendees,
		ResourceIDs:    event.ResourceIDs,
	}
}

func rowToEvent(row *entityRow) *storage.Event {
	return &storage.Event{
		ID:             row.ID,
		CalendarID:     row.CalendarID,
		Title:          row.Title,
		Description:    row.Description,
		StartTime:      row.StartTime,
		EndTime:        row.EndTime,
		Rule:           row.Rule,
		ParentID:       row.ParentID,
		RecurrenceTime: row.RecurrenceTime,
		IsException:    row.IsException,
		BulkParentID:   row.BulkParentID,
		Attendees:      row.Attendees,
		ResourceIDs:    row.ResourceIDs,
	}
}

// ---------------------------------------------------------------------------
// Blocked times
// ---------------------------------------------------------------------------

func (s *Store) CreateBlockedTime(ctx context.Context, blocked *storage.BlockedTime) error {
	if blocked.ID == "" {
		blocked.ID = uuid.NewString()
	}
	return s.insertEntity(ctx, storage.KindBlockedTime, blockedToRow(blocked))
}

func (s *Store) GetBlockedTime(ctx context.Context, id string) (*storage.BlockedTime, error) {
	row, err := s.getEntity(ctx, storage.KindBlockedTime, id)
	if err != nil {
		return nil, err
	}
	return rowToBlocked(row), nil
}

func (s *Store) UpdateBlockedTime(ctx context.Context, blocked *storage.BlockedTime) error {
	return s.updateEntity(ctx, storage.KindBlockedTime, blockedToRow(blocked))
}

func (s *Store) DeleteBlockedTime(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, storage.KindBlockedTime, id)
}

func (s *Store) ListBlockedTimes(ctx context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.BlockedTime, error) {
	rows, err := s.listEntities(ctx, storage.KindBlockedTime, calendarID, opts)
	if err != nil {
		return nil, err
	}
	times := make([]*storage.BlockedTime, len(rows))
	for i, row := range rows {
		times[i] = rowToBlocked(row)
	}
	return times, nil
}

func blockedToRow(blocked *storage.BlockedTime) *entityRow {
	return &entityRow{
		ID:             blocked.ID,
		CalendarID:     blocked.CalendarID,
		Reason:         blocked.Reason,
		StartTime:      blocked.StartTime,
		EndTime:        blocked.EndTime,
		Rule:           blocked.Rule,
		ParentID:       blocked.ParentID,
		RecurrenceTime: blocked.RecurrenceTime,
		IsException:    blocked.IsException,
		BulkParentID:   blocked.BulkParentID,
	}
}

func rowToBlocked(row *entityRow) *storage.BlockedTime {
	return &storage.BlockedTime{
		ID:             row.ID,
		CalendarID:     row.CalendarID,
		Reason:         row.Reason,
		StartTime:      row.StartTime,
		EndTime:        row.EndTime,
		Rule:           row.Rule,
		ParentID:       row.ParentID,
		RecurrenceTime: row.RecurrenceTime,
		IsException:    row.IsException,
		BulkParentID:   row.BulkParentID,
	}
}

// ---------------------------------------------------------------------------
// Available times
// ---------------------------------------------------------------------------

func (s *Store) CreateAvailableTime(ctx context.Context, available *storage.AvailableTime) error {
	if available.ID == "" {
		available.ID = uuid.NewString()
	}
	return s.insertEntity(ctx, storage.KindAvailableTime, availableToRow(available))
}

func (s *Store) GetAvailableTime(ctx context.Context, id string) (*storage.AvailableTime, error) {
	row, err := s.getEntity(ctx, storage.KindAvailableTime, id)
	if err != nil {
		return nil, err
	}
	return rowToAvailable(row), nil
}

func (s *Store) UpdateAvailableTime(ctx context.Context, available *storage.AvailableTime) error {
	return s.updateEntity(ctx, storage.KindAvailableTime, availableToRow(available))
}

func (s *Store) DeleteAvailableTime(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, storage.KindAvailableTime, id)
}

func (s *Store) ListAvailableTimes(ctx context.Context, calendarID string, opts *storage.ListOptions) ([]*storage.AvailableTime, error) {
	rows, err := s.listEntities(ctx, storage.KindAvailableTime, calendarID, opts)
	if err != nil {
		return nil, err
	}
	times := make([]*storage.AvailableTime, len(rows))
	for i, row := range rows {
		times[i] = rowToAvailable(row)
	}
	return times, nil
}

func availableToRow(available *storage.AvailableTime) *entityRow {
	return &entityRow{
		ID:             available.ID,
		CalendarID:     available.CalendarID,
		StartTime:      available.StartTime,
		EndTime:        available.EndTime,
		Rule:           available.Rule,
		ParentID:       available.ParentID,
		RecurrenceTime: available.RecurrenceTime,
		IsException:    available.IsException,
		BulkParentID:   available.BulkParentID,
	}
}

func rowToAvailable(row *entityRow) *storage.AvailableTime {
	return &storage.AvailableTime{
		ID:             row.ID,
		CalendarID:     row.CalendarID,
		StartTime:      row.StartTime,
		EndTime:        row.EndTime,
		Rule:           row.Rule,
		ParentID:       row.ParentID,
		RecurrenceTime: row.RecurrenceTime,
		IsException:    row.IsException,
		BulkParentID:   row.BulkParentID,
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func (s *Store) UpsertException(ctx context.Context, exc *storage.Exception) error {
	if exc.ID == "" {
		exc.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO exceptions (id, kind, parent_id, date, cancelled, modified_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (kind, parent_id, date) DO UPDATE SET
		   cancelled = EXCLUDED.cancelled,
		   modified_id = EXCLUDED.modified_id
		 RETURNING id`,
		exc.ID, string(exc.Kind), exc.ParentID, exc.Date, exc.Cancelled, exc.ModifiedID,
	).Scan(&exc.ID)
	return err
}

func (s *Store) GetException(ctx context.Context, kind storage.EntityKind, parentID string, date time.Time) (*storage.Exception, error) {
	var exc storage.Exception
	var kindStr string
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, parent_id, date, cancelled, modified_id
		 FROM exceptions WHERE kind = $1 AND parent_id = $2 AND date = $3`,
		string(kind), parentID, date,
	).Scan(&exc.ID, &kindStr, &exc.ParentID, &exc.Date, &exc.Cancelled, &exc.ModifiedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "exception not found"}
	}
	if err != nil {
		return nil, err
	}
	exc.Kind = storage.EntityKind(kindStr)
	return &exc, nil
}

func (s *Store) ListExceptions(ctx context.Context, kind storage.EntityKind, parentID string) ([]*storage.Exception, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, parent_id, date, cancelled, modified_id
		 FROM exceptions WHERE kind = $1 AND parent_id = $2 ORDER BY date ASC`,
		string(kind), parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []*storage.Exception
	for rows.Next() {
		var exc storage.Exception
		var kindStr string
		if err := rows.Scan(&exc.ID, &kindStr, &exc.ParentID, &exc.Date, &exc.Cancelled, &exc.ModifiedID); err != nil {
			return nil, err
		}
		exc.Kind = storage.EntityKind(kindStr)
		exceptions = append(exceptions, &exc)
	}
	return exceptions, rows.Err()
}

func (s *Store) DeleteExceptions(ctx context.Context, kind storage.EntityKind, parentID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM exceptions WHERE kind = $1 AND parent_id = $2`,
		string(kind), parentID,
	)
	return err
}

// ---------------------------------------------------------------------------
// Bulk modifications
// ---------------------------------------------------------------------------

func (s *Store) CreateBulkModification(ctx context.Context, mod *storage.BulkModification) error {
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bulk_modifications (id, kind, parent_id, start_date, cancelled, continuation_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		mod.ID, string(mod.Kind), mod.ParentID, mod.StartDate, mod.Cancelled, mod.ContinuationID,
	)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "bulk modification already exists", Err: err}
	}
	return nil
}

func (s *Store) ListBulkModifications(ctx context.Context, kind storage.EntityKind, parentID string) ([]*storage.BulkModification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, parent_id, start_date, cancelled, continuation_id
		 FROM bulk_modifications WHERE kind = $1 AND parent_id = $2 ORDER BY start_date ASC`,
		string(kind), parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []*storage.BulkModification
	for rows.Next() {
		var mod storage.BulkModification
		var kindStr string
		if err := rows.Scan(&mod.ID, &kindStr, &mod.ParentID, &mod.StartDate, &mod.Cancelled, &mod.ContinuationID); err != nil {
			return nil, err
		}
		mod.Kind = storage.EntityKind(kindStr)
		mods = append(mods, &mod)
	}
	return mods, rows.Err()
}

func (s *Store) ListContinuationIDs(ctx context.Context, kind storage.EntityKind, parentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM entities WHERE kind = $1 AND bulk_parent_id = $2 ORDER BY start_time ASC`,
		string(kind), parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
