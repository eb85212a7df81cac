// Package eventstore persists calendar events and pipeline bookkeeping
// state in PostgreSQL.
//
// The store is the pipeline's durable record: every event published to
// the remote calendar is inserted here, and the orchestrator's file
// marker and notification watermark live in the pipeline_state table so
// runs survive restarts.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/event"
)

// ErrInvalidRange is returned by GetByDateRange when the range start is
// after its end.
var ErrInvalidRange = errors.New("eventstore: range start is after range end")

// State keys used by the orchestrator. Kept here so the store owns the
// pipeline_state vocabulary.
const (
	StateKeySourceMarker    = "filestore_marker"
	StateKeyNotifyWatermark = "notify_watermark"
)

// Store is the persistence interface consumed by the publisher, the
// notifier, and the orchestrator.
type Store interface {
	// Initialize creates the schema if it does not exist. Idempotent.
	Initialize(ctx context.Context) error

	// Insert validates ev and persists it, filling ID, CreatedAt, and
	// UpdatedAt on success. Invariant violations return a
	// *pipeline.ValidationError; transport failures a *pipeline.StorageError.
	Insert(ctx context.Context, ev *event.CalendarEvent) error

	// GetByDateRange returns events whose [start, end) interval intersects
	// [from, to], ordered by start time ascending, at most limit rows
	// (limit <= 0 means no limit). from after to returns ErrInvalidRange.
	GetByDateRange(ctx context.Context, from, to time.Time, limit int) ([]event.CalendarEvent, error)

	// GetUpcoming returns up to n events starting at or after now,
	// soonest first.
	GetUpcoming(ctx context.Context, n int) ([]event.CalendarEvent, error)

	// GetCreatedAfter returns up to limit events inserted after since,
	// oldest insert first. Drives the notification watermark cycle.
	GetCreatedAfter(ctx context.Context, since time.Time, limit int) ([]event.CalendarEvent, error)

	// UpdateStatus changes an event's scheduling status, e.g. to
	// cancelled.
	UpdateStatus(ctx context.Context, id int64, status event.Status) error

	// GetState returns the pipeline_state value for key, or "" when the
	// key has never been set.
	GetState(ctx context.Context, key string) (string, error)

	// SetState upserts the pipeline_state value for key.
	SetState(ctx context.Context, key, value string) error

	// MigrateLegacySchema upgrades a database created by the legacy
	// deployment (TEXT timestamp columns) to the current schema. A
	// database already on the current schema is a no-op. Failures roll
	// back and return a *pipeline.MigrationError.
	MigrateLegacySchema(ctx context.Context) error
}

// NewPool creates a pgx connection pool from the database configuration
// and verifies connectivity with a ping. The caller owns the pool and
// must Close it on shutdown.
func NewPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse dsn: %w", err)
	}
	poolCfg.MinConns = int32(dbCfg.PoolMin)
	if dbCfg.PoolMax > 0 {
		poolCfg.MaxConns = int32(dbCfg.PoolMax)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("eventstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: ping: %w", err)
	}
	return pool, nil
}
