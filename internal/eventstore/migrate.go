package eventstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

// legacy deployments stored event times as TEXT in local notation. The
// migration converts them to TIMESTAMPTZ in place.
//
// Naive legacy strings carry no zone, so the conversion fixes the session
// time zone to UTC for the duration of the transaction; the legacy writer
// always recorded UTC wall-clock times.

// timestampColumns are the columns the legacy schema stored as TEXT.
var timestampColumns = []string{"start_datetime", "end_datetime"}

// MigrateLegacySchema upgrades a legacy calendar_events table to the
// current schema. It is a no-op when the table is absent (Initialize
// will create it) or already uses timestamp columns. All changes happen
// in a single transaction; any failure rolls back and returns a
// *pipeline.MigrationError, leaving the database untouched.
func (s *PostgresStore) MigrateLegacySchema(ctx context.Context) error {
	exists, err := s.tableExists(ctx, "calendar_events")
	if err != nil {
		return &pipeline.MigrationError{Step: "inspect table", Err: err}
	}
	if !exists {
		slog.Info("no calendar_events table found, nothing to migrate")
		return nil
	}

	legacy, err := s.legacyColumns(ctx)
	if err != nil {
		return &pipeline.MigrationError{Step: "inspect columns", Err: err}
	}
	if len(legacy) == 0 {
		slog.Debug("calendar_events schema is current, skipping migration")
		return nil
	}

	slog.Info("migrating legacy timestamp columns", "columns", legacy)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &pipeline.MigrationError{Step: "begin", Err: err}
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := migrateColumns(ctx, tx, legacy); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &pipeline.MigrationError{Step: "commit", Err: err}
	}
	slog.Info("legacy schema migration complete", "columns", legacy)
	return nil
}

// migrateColumns converts each legacy TEXT column to TIMESTAMPTZ via a
// temporary column, preserving values and recreating the indexes that
// depend on them.
func migrateColumns(ctx context.Context, tx pgx.Tx, legacy []string) error {
	// Naive legacy strings are interpreted as UTC.
	if _, err := tx.Exec(ctx, `SET LOCAL TimeZone = 'UTC'`); err != nil {
		return &pipeline.MigrationError{Step: "set timezone", Err: err}
	}

	for _, col := range legacy {
		tmp := col + "_tmp"
		steps := []struct {
			step string
			sql  string
		}{
			{"add temp column", fmt.Sprintf(
				`ALTER TABLE calendar_events ADD COLUMN %s TIMESTAMPTZ`, tmp)},
			{"convert values", fmt.Sprintf(
				`UPDATE calendar_events SET %s = %s::timestamp AT TIME ZONE 'UTC' WHERE %s IS NOT NULL AND %s <> ''`,
				tmp, col, col, col)},
			{"drop legacy column", fmt.Sprintf(
				`ALTER TABLE calendar_events DROP COLUMN %s`, col)},
			{"rename temp column", fmt.Sprintf(
				`ALTER TABLE calendar_events RENAME COLUMN %s TO %s`, tmp, col)},
			{"restore not null", fmt.Sprintf(
				`ALTER TABLE calendar_events ALTER COLUMN %s SET NOT NULL`, col)},
		}
		for _, st := range steps {
			if _, err := tx.Exec(ctx, st.sql); err != nil {
				return &pipeline.MigrationError{Step: st.step + " " + col, Err: err}
			}
		}
	}

	// Dropping the columns dropped their indexes; recreate them.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_start_datetime ON calendar_events(start_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_end_datetime ON calendar_events(end_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_date_range ON calendar_events(start_datetime, end_datetime)`,
	}
	for _, sql := range indexes {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return &pipeline.MigrationError{Step: "recreate indexes", Err: err}
		}
	}
	return nil
}

// tableExists reports whether a table is present in the current schema.
func (s *PostgresStore) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// legacyColumns returns the timestamp columns still stored as TEXT.
func (s *PostgresStore) legacyColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'calendar_events'
		  AND column_name = ANY($1)`, timestampColumns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legacy []string
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		if dataType == "text" || dataType == "character varying" {
			legacy = append(legacy, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return legacy, nil
}
