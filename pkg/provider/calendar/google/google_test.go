package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/pipeline"
	gcal "google.golang.org/api/calendar/v3"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return fn(req)
}

func newProvider(t *testing.T, fn roundTripperFunc) *Provider {
	t.Helper()
	p, err := New(context.Background(), "", "", WithHTTPClient(&http.Client{Transport: fn}))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func testDraft() *event.Draft {
	start := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	return &event.Draft{
		Summary:  "Standup",
		Location: "Room 2",
		Start:    start,
		End:      start.Add(30 * time.Minute),
		TimeZone: "UTC",
		Attendees: []event.Attendee{
			{Email: "dev@example.com", DisplayName: "Dev", Optional: true},
		},
		Recurrence: []string{"RRULE:FREQ=DAILY"},
		Reminders: &event.Reminders{
			Overrides: []event.ReminderOverride{{Method: "popup", Minutes: 10}},
		},
		Status: event.StatusConfirmed,
	}
}

func TestCreateEventSendsDraftWithKeyAsID(t *testing.T) {
	t.Parallel()

	var sent gcal.Event
	p := newProvider(t, func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
			t.Fatal(err)
		}
		return jsonResponse(http.StatusOK, &gcal.Event{Id: sent.Id}), nil
	})

	remoteID, err := p.CreateEvent(context.Background(), testDraft(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if remoteID != "abc123" {
		t.Errorf("expected remote ID abc123, got %q", remoteID)
	}
	if sent.Id != "abc123" {
		t.Errorf("expected event ID abc123, got %q", sent.Id)
	}
	if sent.Summary != "Standup" || sent.Location != "Room 2" {
		t.Errorf("unexpected event fields: %+v", sent)
	}
	if sent.Start == nil || sent.Start.DateTime != "2026-03-10T09:30:00Z" || sent.Start.TimeZone != "UTC" {
		t.Errorf("unexpected start: %+v", sent.Start)
	}
	if len(sent.Attendees) != 1 || sent.Attendees[0].Email != "dev@example.com" || !sent.Attendees[0].Optional {
		t.Errorf("unexpected attendees: %+v", sent.Attendees)
	}
	if len(sent.Recurrence) != 1 || sent.Recurrence[0] != "RRULE:FREQ=DAILY" {
		t.Errorf("unexpected recurrence: %v", sent.Recurrence)
	}
	if sent.Reminders == nil || sent.Reminders.UseDefault || len(sent.Reminders.Overrides) != 1 {
		t.Errorf("unexpected reminders: %+v", sent.Reminders)
	}
	if sent.Status != "confirmed" {
		t.Errorf("unexpected status %q", sent.Status)
	}
}

func TestCreateEventConflictReturnsKey(t *testing.T) {
	t.Parallel()

	calls := 0
	p := newProvider(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusConflict, map[string]any{
			"error": map[string]any{"code": 409, "message": "The requested identifier already exists"},
		}), nil
	})

	remoteID, err := p.CreateEvent(context.Background(), testDraft(), "abc123")
	if err != nil {
		t.Fatalf("conflict must be treated as success, got %v", err)
	}
	if remoteID != "abc123" {
		t.Errorf("expected remote ID abc123, got %q", remoteID)
	}
	if calls != 1 {
		t.Errorf("expected a single insert attempt, got %d", calls)
	}
}

func TestCreateEventClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"forbidden", http.StatusForbidden, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newProvider(t, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, map[string]any{
					"error": map[string]any{"code": tc.status, "message": tc.name},
				}), nil
			})
			_, err := p.CreateEvent(context.Background(), testDraft(), "abc123")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := pipeline.IsTransient(err); got != tc.transient {
				t.Errorf("status %d: transient = %v, want %v (%v)", tc.status, got, tc.transient, err)
			}
			if !tc.transient && !pipeline.IsFatal(err) {
				t.Errorf("status %d: expected fatal classification, got %v", tc.status, err)
			}
		})
	}
}
