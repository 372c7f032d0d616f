// Package sqlite implements storage.Store on a single SQLite file. Times
// are stored as RFC3339Nano text and recurrence rules as RRULE text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"

	_ "modernc.org/sqlite"
)

// Store implements storage.Store backed by SQLite in WAL mode.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendars (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		manage_windows  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS entities (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		calendar_id     TEXT NOT NULL REFERENCES calendars(id),
		title           TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		reason          TEXT NOT NULL DEFAULT '',
		start_time      TEXT NOT NULL,
		end_time        TEXT NOT NULL,
		rrule           TEXT NOT NULL DEFAULT '',
		parent_id       TEXT NOT NULL DEFAULT '',
		recurrence_time TEXT,
		is_exception    INTEGER NOT NULL DEFAULT 0,
		bulk_parent_id  TEXT NOT NULL DEFAULT '',
		attendees       TEXT NOT NULL DEFAULT '[]',
		resource_ids    TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_entities_calendar ON entities(kind, calendar_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_entities_bulk_parent ON entities(kind, bulk_parent_id);

	CREATE TABLE IF NOT EXISTS exceptions (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		parent_id   TEXT NOT NULL,
		date        TEXT NOT NULL,
		cancelled   INTEGER NOT NULL DEFAULT 0,
		modified_id TEXT NOT NULL DEFAULT '',
		UNIQUE (kind, parent_id, date)
	);

	CREATE TABLE IF NOT EXISTS bulk_modifications (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		parent_id       TEXT NOT NULL,
		start_date      TEXT NOT NULL,
		cancelled       INTEGER NOT NULL DEFAULT 0,
		continuation_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_bulk_mods_parent ON bulk_modifications(kind, parent_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Calendars
// ---------------------------------------------------------------------------

func (s *Store) CreateCalendar(ctx context.Context, cal *storage.Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (id, name, manage_windows) VALUES (?, ?, ?)`,
		cal.ID, cal.Name, boolToInt(cal.ManageAvailableWindows),
	)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already exists", Err: err}
	}
	return nil
}

func (s *Store) GetCalendar(ctx context.Context, id string) (*storage.Calendar, error) {
	var cal storage.Calendar
	var manage int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, manage_windows FROM calendars WHERE id = ?`, id,
	).Scan(&cal.ID, &cal.Name, &manage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar not found"}
	}
	if err != nil {
		return nil, err
	}
	cal.ManageAvailableWindows = manage != 0
	return &cal, nil
}

func (s *Store) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, manage_windows FROM calendars ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*storage.Calendar
	for rows.Next() {
		var cal storage.Calendar
		var manage int
		if err := rows.Scan(&cal.ID, &cal.Name, &manage); err != nil {
			return nil, err
		}
		cal.ManageAvailableWindows = manage != 0
		calendars = append(calendars, &cal)
	}
	return calendars, rows.Err()
}

// ---------------------------------------------------------------------------
// Entities
//
// The three entity kinds share one table discriminated by the kind column;
// kind-specific fields are simply empty for the kinds that lack them.
// ---------------------------------------------------------------------------

// entityRow is the flat row shape shared by the three entity kinds.
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
	var recTime sql.NullString
	if row.RecurrenceTime != nil {
		recTime = sql.NullString{String: timeStr(*row.RecurrenceTime), Valid: true}
	}
	attendees, err := json.Marshal(row.Attendees)
	if err != nil {
		return err
	}
	resources, err := json.Marshal(row.ResourceIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, calendar_id, title, description, reason,
		                       start_time, end_time, rrule, parent_id, recurrence_time,
		                       is_exception, bulk_parent_id, attendees, resource_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, string(kind), row.CalendarID, row.Title, row.Description, row.Reason,
		timeStr(row.StartTime), timeStr(row.EndTime), rrule, row.ParentID, recTime,
		boolToInt(row.IsException), row.BulkParentID, string(attendees), string(resources),
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
	var recTime sql.NullString
	if row.RecurrenceTime != nil {
		recTime = sql.NullString{String: timeStr(*row.RecurrenceTime), Valid: true}
	}
	attendees, err := json.Marshal(row.Attendees)
	if err != nil {
		return err
	}
	resources, err := json.Marshal(row.ResourceIDs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET calendar_id = ?, title = ?, description = ?, reason = ?,
		        start_time = ?, end_time = ?, rrule = ?, parent_id = ?, recurrence_time = ?,
		        is_exception = ?, bulk_parent_id = ?, attendees = ?, resource_ids = ?
		 WHERE id = ? AND kind = ?`,
		row.CalendarID, row.Title, row.Description, row.Reason,
		timeStr(row.StartTime), timeStr(row.EndTime), rrule, row.ParentID, recTime,
		boolToInt(row.IsException), row.BulkParentID, string(attendees), string(resources),
		row.ID, string(kind),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return nil
}

func (s *Store) getEntity(ctx context.Context, kind storage.EntityKind, id string) (*entityRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, calendar_id, title, description, reason, start_time, end_time,
		        rrule, parent_id, recurrence_time, is_exception, bulk_parent_id,
		        attendees, resource_ids
		 FROM entities WHERE id = ? AND kind = ?`, id, string(kind),
	)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return e, err
}

func (s *Store) deleteEntity(ctx context.Context, kind storage.EntityKind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ? AND kind = ?`, id, string(kind),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: string(kind) + " not found"}
	}
	return nil
}

func (s *Store) listEntities(ctx context.Context, kind storage.EntityKind, calendarID string, opts *storage.ListOptions) ([]*entityRow, error) {
	query := `SELECT id, calendar_id, title, description, reason, start_time, end_time,
	                 rrule, parent_id, recurrence_time, is_exception, bulk_parent_id,
	                 attendees, resource_ids
	          FROM entities WHERE kind = ? AND calendar_id = ?`
	args := []any{string(kind), calendarID}

	if opts != nil {
		if opts.To != nil {
			query += ` AND start_time < ?`
			args = append(args, timeStr(*opts.To))
		}
		if opts.From != nil {
			query += ` AND end_time > ?`
			args = append(args, timeStr(*opts.From))
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
			query += ` AND is_exception = 0`
		}
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	var startStr, endStr, rrule, attendees, resources string
	var recTime sql.NullString
	var isExc int
	if err := scan(&e.ID, &e.CalendarID, &e.Title, &e.Description, &e.Reason,
		&startStr, &endStr, &rrule, &e.ParentID, &recTime,
		&isExc, &e.BulkParentID, &attendees, &resources); err != nil {
		return nil, err
	}
	e.IsException = isExc != 0

	var err error
	if e.StartTime, err = parseTime(startStr); err != nil {
		return nil, fmt.Errorf("parse start_time for entity %s: %w", e.ID, err)
	}
	if e.EndTime, err = parseTime(endStr); err != nil {
		return nil, fmt.Errorf("parse end_time for entity %s: %w", e.ID, err)
	}
	if recTime.Valid {
		t, err := parseTime(recTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence_time for entity %s: %w", e.ID, err)
		}
		e.RecurrenceTime = &t
	}
	if rrule != "" {
		if e.Rule, err = recurrence.Parse(rrule); err != nil {
			return nil, fmt.Errorf("parse rrule for entity %s: %w", e.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
		return nil, fmt.Errorf("parse attendees for entity %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(resources), &e.ResourceIDs); err != nil {
		return nil, fmt.Errorf("parse resource_ids for entity %s: %w", e.ID, err)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exceptions (id, kind, parent_id, date, cancelled, modified_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, parent_id, date) DO UPDATE SET
		   cancelled = excluded.cancelled,
		   modified_id = excluded.modified_id`,
		exc.ID, string(exc.Kind), exc.ParentID, timeStr(exc.Date),
		boolToInt(exc.Cancelled), exc.ModifiedID,
	)
	if err != nil {
		return err
	}

	// Keep the caller's view of the record consistent with the stored one.
	stored, err := s.GetException(ctx, exc.Kind, exc.ParentID, exc.Date)
	if err != nil {
		return err
	}
	exc.ID = stored.ID
	return nil
}

func (s *Store) GetException(ctx context.Context, kind storage.EntityKind, parentID string, date time.Time) (*storage.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, date, cancelled, modified_id
		 FROM exceptions WHERE kind = ? AND parent_id = ? AND date = ?`,
		string(kind), parentID, timeStr(date),
	)
	exc, err := scanException(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "exception not found"}
	}
	return exc, err
}

func (s *Store) ListExceptions(ctx context.Context, kind storage.EntityKind, parentID string) ([]*storage.Exception, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, parent_id, date, cancelled, modified_id
		 FROM exceptions WHERE kind = ? AND parent_id = ? ORDER BY date ASC`,
		string(kind), parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []*storage.Exception
	for rows.Next() {
		exc, err := scanException(rows.Scan)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, exc)
	}
	return exceptions, rows.Err()
}

func (s *Store) DeleteExceptions(ctx context.Context, kind storage.EntityKind, parentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM exceptions WHERE kind = ? AND parent_id = ?`,
		string(kind), parentID,
	)
	return err
}

func scanException(scan func(dest ...any) error) (*storage.Exception, error) {
	var exc storage.Exception
	var kindStr, dateStr string
	var cancelled int
	if err := scan(&exc.ID, &kindStr, &exc.ParentID, &dateStr, &cancelled, &exc.ModifiedID); err != nil {
		return nil, err
	}
	exc.Kind = storage.EntityKind(kindStr)
	exc.Cancelled = cancelled != 0
	var err error
	if exc.Date, err = parseTime(dateStr); err != nil {
		return nil, fmt.Errorf("parse date for exception %s: %w", exc.ID, err)
	}
	return &exc, nil
}

// ---------------------------------------------------------------------------
// Bulk modifications
// ---------------------------------------------------------------------------

func (s *Store) CreateBulkModification(ctx context.Context, mod *storage.BulkModification) error {
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bulk_modifications (id, kind, parent_id, start_date, cancelled, continuation_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		mod.ID, string(mod.Kind), mod.ParentID, timeStr(mod.StartDate),
		boolToInt(mod.Cancelled), mod.ContinuationID,
	)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "bulk modification already exists", Err: err}
	}
	return nil
}

func (s *Store) ListBulkModifications(ctx context.Context, kind storage.EntityKind, parentID string) ([]*storage.BulkModification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, parent_id, start_date, cancelled, continuation_id
		 FROM bulk_modifications WHERE kind = ? AND parent_id = ? ORDER BY start_date ASC`,
		string(kind), parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []*storage.BulkModification
	for rows.Next() {
		var mod storage.BulkModification
		var kindStr, dateStr string
		var cancelled int
		if err := rows.Scan(&mod.ID, &kindStr, &mod.ParentID, &dateStr, &cancelled, &mod.ContinuationID); err != nil {
			return nil, err
		}
		mod.Kind = storage.EntityKind(kindStr)
		mod.Cancelled = cancelled != 0
		if mod.StartDate, err = parseTime(dateStr); err != nil {
			return nil, fmt.Errorf("parse start_date for bulk modification %s: %w", mod.ID, err)
		}
		mods = append(mods, &mod)
	}
	return mods, rows.Err()
}

func (s *Store) ListContinuationIDs(ctx context.Context, kind storage.EntityKind, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM entities WHERE kind = ? AND bulk_parent_id = ? ORDER BY start_time ASC`,
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

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
