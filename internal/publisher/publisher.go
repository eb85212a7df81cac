// Package publisher pushes validated event drafts to the external
// calendar and records them in the event store.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/eventstore"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/calendar"
)

// Publisher publishes drafts to a calendar backend and persists the
// resulting events.
type Publisher struct {
	cal   calendar.Provider
	store eventstore.Store
}

// New creates a Publisher.
func New(cal calendar.Provider, store eventstore.Store) *Publisher {
	return &Publisher{cal: cal, store: store}
}

// Publish creates the draft in the remote calendar and inserts the
// resulting event into the store. The remote create uses a content-hash
// idempotency key, so re-running a failed pipeline never produces a
// duplicate calendar entry.
//
// When the remote create succeeds but the insert fails, Publish returns
// a *pipeline.PartialFailureError carrying the remote ID. The caller
// must not publish again; the event exists remotely and only the local
// record is missing.
func (p *Publisher) Publish(ctx context.Context, draft *event.Draft) (*event.CalendarEvent, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	key := IdempotencyKey(draft)

	remoteID, err := p.cal.CreateEvent(ctx, draft, key)
	if err != nil {
		return nil, fmt.Errorf("publisher: create remote event: %w", err)
	}
	slog.Debug("published event to calendar", "remoteID", remoteID, "summary", draft.Summary)

	ev := &event.CalendarEvent{RemoteID: remoteID, Draft: *draft}
	if err := p.store.Insert(ctx, ev); err != nil {
		return nil, &pipeline.PartialFailureError{RemoteID: remoteID, Err: err}
	}
	return ev, nil
}

// canonicalDraft is the hashed subset of a draft. Only fields that make
// two drafts "the same event" participate; bookkeeping like the
// transcript body does not.
type canonicalDraft struct {
	Summary    string   `json:"summary"`
	Location   string   `json:"location"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Attendees  []string `json:"attendees"`
	Recurrence []string `json:"recurrence"`
	SourceFile string   `json:"sourceFile"`
}

// IdempotencyKey derives a deterministic identifier from the draft's
// content: the lowercase hex SHA-256 of its canonical JSON form. Equal
// drafts always map to the same key regardless of attendee order or the
// zone their times were expressed in.
func IdempotencyKey(draft *event.Draft) string {
	emails := make([]string, 0, len(draft.Attendees))
	for _, a := range draft.Attendees {
		emails = append(emails, a.Email)
	}
	sort.Strings(emails)

	c := canonicalDraft{
		Summary:    draft.Summary,
		Location:   draft.Location,
		Start:      draft.Start.UTC().Format(time.RFC3339),
		End:        draft.End.UTC().Format(time.RFC3339),
		Attendees:  emails,
		Recurrence: draft.Recurrence,
		SourceFile: draft.SourceFile,
	}
	// Marshal of a flat struct with no map fields cannot fail.
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
