// Package mock provides an in-memory eventstore.Store for tests.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/eventstore"
)

// Store keeps events and state in memory. The zero value is usable.
// Err fields inject failures; Func fields take precedence over the
// default in-memory behavior. Like pgx, every method rejects a context
// that is already cancelled.
type Store struct {
	mu sync.Mutex

	nextID int64
	events []event.CalendarEvent
	state  map[string]string

	InsertErr  error
	QueryErr   error
	StateErr   error
	MigrateErr error

	InsertFunc func(ctx context.Context, ev *event.CalendarEvent) error

	initializeCalls int
	migrateCalls    int
}

var _ eventstore.Store = (*Store)(nil)

func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeCalls++
	return nil
}

func (s *Store) Insert(ctx context.Context, ev *event.CalendarEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	fn := s.InsertFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, ev)
	}
	if s.InsertErr != nil {
		return s.InsertErr
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	now := time.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	s.events = append(s.events, *ev)
	return nil
}

func (s *Store) GetByDateRange(ctx context.Context, from, to time.Time, limit int) ([]event.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if from.After(to) {
		return nil, eventstore.ErrInvalidRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.CalendarEvent
	for _, ev := range s.events {
		if !ev.Start.After(to) && !ev.End.Before(from) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return clip(out, limit), nil
}

func (s *Store) GetUpcoming(ctx context.Context, n int) ([]event.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []event.CalendarEvent
	for _, ev := range s.events {
		if !ev.Start.Before(now) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return clip(out, n), nil
}

func (s *Store) GetCreatedAfter(ctx context.Context, since time.Time, limit int) ([]event.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.CalendarEvent
	for _, ev := range s.events {
		if ev.CreatedAt.After(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return clip(out, limit), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status event.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Status = status
			s.events[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return s.QueryErr
}

func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.StateErr != nil {
		return "", s.StateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key], nil
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.StateErr != nil {
		return s.StateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = make(map[string]string)
	}
	s.state[key] = value
	return nil
}

func (s *Store) MigrateLegacySchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrateCalls++
	return s.MigrateErr
}

// Events returns a copy of all stored events.
func (s *Store) Events() []event.CalendarEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.CalendarEvent(nil), s.events...)
}

// Seed adds an event without validation, for arranging test state.
func (s *Store) Seed(ev event.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == 0 {
		s.nextID++
		ev.ID = s.nextID
	}
	s.events = append(s.events, ev)
}

// State returns the stored value for key.
func (s *Store) State(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key]
}

func clip(events []event.CalendarEvent, limit int) []event.CalendarEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}
