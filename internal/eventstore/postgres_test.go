package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/pipeline"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data    [][]any
	idx     int
	err     error
	closed  bool
	scanErr error
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	return assign(dest, row)
}

func (r *mockRows) Values() ([]any, error) { return nil, nil }

// assign copies scripted values into scan destinations.
func assign(dest, row []any) error {
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *[]byte:
			if v == nil {
				*d = nil
			} else {
				*d = v.([]byte)
			}
		case *time.Time:
			*d = v.(time.Time)
		case *event.Status:
			*d = event.Status(v.(string))
		case *event.Visibility:
			*d = event.Visibility(v.(string))
		case *event.Transparency:
			*d = event.Transparency(v.(string))
		case *bool:
			*d = v.(bool)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	beginFunc    func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFunc != nil {
		return m.beginFunc(ctx)
	}
	return nil, errors.New("begin not scripted")
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testEvent() *event.CalendarEvent {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	return &event.CalendarEvent{
		RemoteID: "abc123",
		Draft: event.Draft{
			Summary:  "Standup",
			Start:    start,
			End:      start.Add(30 * time.Minute),
			Status:   event.StatusConfirmed,
			Attendees: []event.Attendee{
				{Email: "alice@example.com"},
			},
			SourceFile: "standup.ogg",
			Transcript: "schedule the standup tomorrow at ten",
		},
	}
}

// eventRow renders ev as a scripted row in eventColumns order.
func eventRow(ev *event.CalendarEvent) []any {
	return []any{
		ev.ID, ev.RemoteID, ev.Summary, ev.Description, ev.Location,
		ev.Start, ev.End, ev.TimeZone,
		[]byte(`[{"email":"alice@example.com"}]`), []byte(`[]`), nil,
		string(event.StatusConfirmed), string(event.VisibilityDefault), string(event.TransparencyOpaque),
		ev.SourceFile, ev.Transcript, ev.CreatedAt, ev.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestInsertFillsIdentity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	var gotSQL string
	var gotArgs []any
	db := &mockDB{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			gotSQL = sql
			gotArgs = args
			return &mockRow{scanFunc: func(dest ...any) error {
				return assign(dest, []any{int64(42), now, now})
			}}
		},
	}

	ev := testEvent()
	if err := NewPostgresStore(db).Insert(context.Background(), ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ev.ID != 42 || !ev.CreatedAt.Equal(now) || !ev.UpdatedAt.Equal(now) {
		t.Errorf("identity not filled: id=%d created=%v updated=%v", ev.ID, ev.CreatedAt, ev.UpdatedAt)
	}
	if !strings.Contains(gotSQL, "INSERT INTO calendar_events") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	if len(gotArgs) != 15 {
		t.Errorf("args = %d, want 15", len(gotArgs))
	}
	if gotArgs[0] != "abc123" || gotArgs[1] != "Standup" {
		t.Errorf("remote id / summary args wrong: %v %v", gotArgs[0], gotArgs[1])
	}
}

func TestInsertRejectsInvalidWithoutQuery(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			t.Fatal("invalid event must not reach the database")
			return nil
		},
	}

	ev := testEvent()
	ev.End = ev.Start // violates time order
	err := NewPostgresStore(db).Insert(context.Background(), ev)
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestInsertMapsConstraintViolation(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error {
				return &pgconn.PgError{Code: "23514", ConstraintName: "calendar_events_time_order"}
			}}
		},
	}

	err := NewPostgresStore(db).Insert(context.Background(), testEvent())
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(ve.Violations[0], "calendar_events_time_order") {
		t.Errorf("violation %q should name the constraint", ve.Violations[0])
	}
}

func TestInsertMapsTransportError(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error {
				return errors.New("connection reset")
			}}
		},
	}

	err := NewPostgresStore(db).Insert(context.Background(), testEvent())
	var se *pipeline.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StorageError", err)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestGetByDateRangeRoundTrip(t *testing.T) {
	t.Parallel()

	stored := testEvent()
	stored.ID = 7
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt

	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "start_datetime <= $2 AND end_datetime >= $1") {
				t.Errorf("intersection predicate missing from: %s", sql)
			}
			gotArgs = args
			return &mockRows{data: [][]any{eventRow(stored)}}, nil
		},
	}

	from := stored.Start.Add(-time.Hour)
	to := stored.Start.Add(time.Hour)
	events, err := NewPostgresStore(db).GetByDateRange(context.Background(), from, to, 50)
	if err != nil {
		t.Fatalf("GetByDateRange: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	got := events[0]
	if got.ID != 7 || got.Summary != "Standup" || got.RemoteID != "abc123" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Attendees) != 1 || got.Attendees[0].Email != "alice@example.com" {
		t.Errorf("attendees not decoded: %+v", got.Attendees)
	}
	if len(gotArgs) != 3 || gotArgs[2] != 50 {
		t.Errorf("args = %v, want from/to/limit", gotArgs)
	}
}

func TestGetByDateRangeReversed(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			t.Fatal("reversed range must not reach the database")
			return nil, nil
		},
	}

	now := time.Now()
	_, err := NewPostgresStore(db).GetByDateRange(context.Background(), now, now.Add(-time.Hour), 0)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
}

func TestGetUpcomingLimit(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "start_datetime >= now()") {
				t.Errorf("upcoming predicate missing from: %s", sql)
			}
			gotArgs = args
			return &mockRows{}, nil
		},
	}

	events, err := NewPostgresStore(db).GetUpcoming(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetUpcoming: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
	if len(gotArgs) != 1 || gotArgs[0] != 5 {
		t.Errorf("args = %v, want [5]", gotArgs)
	}
}

func TestGetCreatedAfterOrdersByInsert(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "created_at > $1") || !strings.Contains(sql, "ORDER BY created_at ASC") {
				t.Errorf("watermark predicate missing from: %s", sql)
			}
			return &mockRows{}, nil
		},
	}
	if _, err := NewPostgresStore(db).GetCreatedAfter(context.Background(), time.Now(), 100); err != nil {
		t.Fatalf("GetCreatedAfter: %v", err)
	}
}

// ---------------------------------------------------------------------------
// UpdateStatus and pipeline state
// ---------------------------------------------------------------------------

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if args[0] != int64(9) || args[1] != event.StatusCancelled {
				t.Errorf("args = %v", args)
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	if err := NewPostgresStore(db).UpdateStatus(context.Background(), 9, event.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	t.Parallel()

	err := NewPostgresStore(&mockDB{}).UpdateStatus(context.Background(), 1, "vanished")
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestUpdateStatusMissingEvent(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	err := NewPostgresStore(db).UpdateStatus(context.Background(), 404, event.StatusCancelled)
	var se *pipeline.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StorageError", err)
	}
}

func TestGetStateUnsetReturnsEmpty(t *testing.T) {
	t.Parallel()

	value, err := NewPostgresStore(&mockDB{}).GetState(context.Background(), StateKeyNotifyWatermark)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if value != "" {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestSetStateUpserts(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	if err := NewPostgresStore(db).SetState(context.Background(), StateKeySourceMarker, "2026-03-09T00:00:00Z"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (key) DO UPDATE") {
		t.Errorf("SetState must upsert, got: %s", gotSQL)
	}
}

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

func TestInitializeIdempotent(t *testing.T) {
	t.Parallel()

	execs := 0
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			execs++
			if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS calendar_events") {
				t.Errorf("schema DDL missing guard: %s", sql)
			}
			return pgconn.CommandTag{}, nil
		},
	}

	s := NewPostgresStore(db)
	for i := 0; i < 2; i++ {
		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize call %d: %v", i+1, err)
		}
	}
	if execs != 2 {
		t.Errorf("execs = %d, want 2", execs)
	}
}
