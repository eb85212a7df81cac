package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/pipeline"
)

// Schema is the SQL DDL for the event store. Execute it via
// [PostgresStore.Initialize] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS calendar_events (
    id              BIGSERIAL PRIMARY KEY,
    remote_id       TEXT NOT NULL DEFAULT '',
    summary         TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    start_datetime  TIMESTAMPTZ NOT NULL,
    end_datetime    TIMESTAMPTZ NOT NULL,
    timezone        TEXT NOT NULL DEFAULT '',
    attendees       JSONB NOT NULL DEFAULT '[]',
    recurrence      JSONB NOT NULL DEFAULT '[]',
    reminders       JSONB,
    status          TEXT NOT NULL DEFAULT 'confirmed',
    visibility      TEXT NOT NULL DEFAULT 'default',
    transparency    TEXT NOT NULL DEFAULT 'opaque',
    source_file     TEXT NOT NULL DEFAULT '',
    transcript      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT calendar_events_time_order
        CHECK (end_datetime > start_datetime),
    CONSTRAINT calendar_events_summary_nonempty
        CHECK (length(trim(summary)) > 0),
    CONSTRAINT calendar_events_status
        CHECK (status IN ('confirmed', 'tentative', 'cancelled')),
    CONSTRAINT calendar_events_visibility
        CHECK (visibility IN ('default', 'public', 'private', 'confidential')),
    CONSTRAINT calendar_events_transparency
        CHECK (transparency IN ('opaque', 'transparent'))
);
CREATE INDEX IF NOT EXISTS idx_calendar_events_start_datetime ON calendar_events(start_datetime);
CREATE INDEX IF NOT EXISTS idx_calendar_events_end_datetime ON calendar_events(end_datetime);
CREATE INDEX IF NOT EXISTS idx_calendar_events_date_range ON calendar_events(start_datetime, end_datetime);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_events_remote_id
    ON calendar_events(remote_id) WHERE remote_id <> '';

CREATE TABLE IF NOT EXISTS pipeline_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies it; so does *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Structured sub-fields
// (attendees, recurrence, reminders) are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection or pool.
// Call [PostgresStore.Initialize] before issuing queries against a fresh
// database.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Initialize executes the [Schema] DDL, creating the tables and indexes
// if they do not already exist. Safe to call on every startup.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return &pipeline.StorageError{Op: "initialize", Err: err}
	}
	return nil
}

const eventColumns = `id, remote_id, summary, description, location,
       start_datetime, end_datetime, timezone,
       attendees, recurrence, reminders,
       status, visibility, transparency,
       source_file, transcript, created_at, updated_at`

// Insert validates ev and persists it. ID, CreatedAt, and UpdatedAt are
// filled from the database on success.
func (s *PostgresStore) Insert(ctx context.Context, ev *event.CalendarEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	attendeesJSON, err := json.Marshal(emptyAttendees(ev.Attendees))
	if err != nil {
		return &pipeline.StorageError{Op: "marshal attendees", Err: err}
	}
	recurrenceJSON, err := json.Marshal(emptyStrings(ev.Recurrence))
	if err != nil {
		return &pipeline.StorageError{Op: "marshal recurrence", Err: err}
	}
	var remindersJSON []byte
	if ev.Reminders != nil {
		remindersJSON, err = json.Marshal(ev.Reminders)
		if err != nil {
			return &pipeline.StorageError{Op: "marshal reminders", Err: err}
		}
	}

	const query = `
		INSERT INTO calendar_events (
			remote_id, summary, description, location,
			start_datetime, end_datetime, timezone,
			attendees, recurrence, reminders,
			status, visibility, transparency,
			source_file, transcript
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		ev.RemoteID, ev.Summary, ev.Description, ev.Location,
		ev.Start.UTC(), ev.End.UTC(), ev.TimeZone,
		attendeesJSON, recurrenceJSON, remindersJSON,
		defaultStatus(ev.Status), defaultVisibility(ev.Visibility), defaultTransparency(ev.Transparency),
		ev.SourceFile, ev.Transcript,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if violations, ok := constraintViolation(err); ok {
			return &pipeline.ValidationError{Violations: violations}
		}
		return &pipeline.StorageError{Op: "insert", Err: err}
	}
	return nil
}

// GetByDateRange returns events whose interval intersects [from, to],
// ordered by start time. A from after to returns [ErrInvalidRange]
// without touching the database.
func (s *PostgresStore) GetByDateRange(ctx context.Context, from, to time.Time, limit int) ([]event.CalendarEvent, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	// Interval intersection: the event starts before the range ends and
	// ends after the range starts.
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE start_datetime <= $2 AND end_datetime >= $1
		ORDER BY start_datetime ASC`
	args := []any{from.UTC(), to.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	return s.queryEvents(ctx, "get by date range", query, args...)
}

// GetUpcoming returns up to n events starting at or after now, soonest
// first.
func (s *PostgresStore) GetUpcoming(ctx context.Context, n int) ([]event.CalendarEvent, error) {
	const query = `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE start_datetime >= now()
		ORDER BY start_datetime ASC
		LIMIT $1`
	return s.queryEvents(ctx, "get upcoming", query, n)
}

// GetCreatedAfter returns up to limit events inserted after since,
// oldest insert first.
func (s *PostgresStore) GetCreatedAfter(ctx context.Context, since time.Time, limit int) ([]event.CalendarEvent, error) {
	const query = `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2`
	return s.queryEvents(ctx, "get created after", query, since.UTC(), limit)
}

// UpdateStatus changes an event's scheduling status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status event.Status) error {
	if !status.IsValid() {
		return &pipeline.ValidationError{Violations: []string{fmt.Sprintf("unknown status %q", status)}}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE calendar_events SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return &pipeline.StorageError{Op: "update status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &pipeline.StorageError{Op: "update status", Err: fmt.Errorf("event %d not found", id)}
	}
	return nil
}

// GetState returns the pipeline_state value for key, or "" when unset.
func (s *PostgresStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM pipeline_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", &pipeline.StorageError{Op: "get state " + key, Err: err}
	}
	return value, nil
}

// SetState upserts the pipeline_state value for key.
func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pipeline_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return &pipeline.StorageError{Op: "set state " + key, Err: err}
	}
	return nil
}

// queryEvents runs a SELECT over eventColumns and scans the rows.
func (s *PostgresStore) queryEvents(ctx context.Context, op, query string, args ...any) ([]event.CalendarEvent, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var events []event.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, &pipeline.StorageError{Op: op + " scan", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StorageError{Op: op, Err: err}
	}
	return events, nil
}

// scanEvent reads one calendar_events row in eventColumns order.
func scanEvent(row pgx.Row) (event.CalendarEvent, error) {
	var (
		ev             event.CalendarEvent
		attendeesJSON  []byte
		recurrenceJSON []byte
		remindersJSON  []byte
	)
	err := row.Scan(
		&ev.ID, &ev.RemoteID, &ev.Summary, &ev.Description, &ev.Location,
		&ev.Start, &ev.End, &ev.TimeZone,
		&attendeesJSON, &recurrenceJSON, &remindersJSON,
		&ev.Status, &ev.Visibility, &ev.Transparency,
		&ev.SourceFile, &ev.Transcript, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return event.CalendarEvent{}, err
	}

	if err := json.Unmarshal(attendeesJSON, &ev.Attendees); err != nil {
		return event.CalendarEvent{}, fmt.Errorf("unmarshal attendees: %w", err)
	}
	if err := json.Unmarshal(recurrenceJSON, &ev.Recurrence); err != nil {
		return event.CalendarEvent{}, fmt.Errorf("unmarshal recurrence: %w", err)
	}
	if len(remindersJSON) > 0 {
		ev.Reminders = &event.Reminders{}
		if err := json.Unmarshal(remindersJSON, ev.Reminders); err != nil {
			return event.CalendarEvent{}, fmt.Errorf("unmarshal reminders: %w", err)
		}
	}
	return ev, nil
}

// constraintViolation maps PostgreSQL integrity errors (SQLSTATE class
// 23) to the violated constraint names so they surface as validation
// failures rather than storage failures.
func constraintViolation(err error) ([]string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return []string{fmt.Sprintf("duplicate value for %s", pgErr.ConstraintName)}, true
	case "23514": // check_violation
		return []string{fmt.Sprintf("check constraint %s violated", pgErr.ConstraintName)}, true
	case "23502": // not_null_violation
		return []string{fmt.Sprintf("column %s must not be null", pgErr.ColumnName)}, true
	}
	return nil, false
}

func defaultStatus(s event.Status) event.Status {
	if s == "" {
		return event.StatusConfirmed
	}
	return s
}

func defaultVisibility(v event.Visibility) event.Visibility {
	if v == "" {
		return event.VisibilityDefault
	}
	return v
}

func defaultTransparency(t event.Transparency) event.Transparency {
	if t == "" {
		return event.TransparencyOpaque
	}
	return t
}

// emptyAttendees returns a non-nil slice so JSON marshalling produces
// "[]" instead of "null".
func emptyAttendees(a []event.Attendee) []event.Attendee {
	if a == nil {
		return []event.Attendee{}
	}
	return a
}

func emptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
