// Package notifier mails digests of newly stored calendar events.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/eventstore"
	"github.com/MrWong99/voxcal/pkg/provider/mailer"
)

const digestSubject = "Upcoming Calendar Events"

// Notifier collects events inserted since the last notification and
// sends them as a single plain-text digest.
type Notifier struct {
	store      eventstore.Store
	mail       mailer.Provider
	recipients []string
	batchSize  int
}

// New creates a Notifier from the notification configuration.
func New(store eventstore.Store, mail mailer.Provider, cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		store:      store,
		mail:       mail,
		recipients: cfg.Recipients,
		batchSize:  cfg.BatchSize,
	}
}

// Run sends at most one digest covering events stored after the
// persisted watermark and returns how many events it covered. The
// watermark only advances after the mail went out, so a failed send is
// retried with the same events on the next run, and a second run with no
// new events sends nothing.
func (n *Notifier) Run(ctx context.Context) (int, error) {
	watermark, err := n.loadWatermark(ctx)
	if err != nil {
		return 0, err
	}

	events, err := n.store.GetCreatedAfter(ctx, watermark, n.batchSize)
	if err != nil {
		return 0, fmt.Errorf("notifier: load new events: %w", err)
	}
	if len(events) == 0 {
		slog.Debug("no new events to notify about", "watermark", watermark)
		return 0, nil
	}

	msg := mailer.Message{
		To:      n.recipients,
		Subject: digestSubject,
		Body:    renderDigest(events),
	}
	if err := n.mail.Send(ctx, msg); err != nil {
		return 0, fmt.Errorf("notifier: send digest: %w", err)
	}

	latest := events[len(events)-1].CreatedAt
	if err := n.store.SetState(ctx, eventstore.StateKeyNotifyWatermark, latest.UTC().Format(time.RFC3339Nano)); err != nil {
		return len(events), fmt.Errorf("notifier: advance watermark: %w", err)
	}
	slog.Info("sent event digest", "events", len(events), "recipients", len(n.recipients))
	return len(events), nil
}

func (n *Notifier) loadWatermark(ctx context.Context) (time.Time, error) {
	raw, err := n.store.GetState(ctx, eventstore.StateKeyNotifyWatermark)
	if err != nil {
		return time.Time{}, fmt.Errorf("notifier: load watermark: %w", err)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	watermark, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("notifier: corrupt watermark %q: %w", raw, err)
	}
	return watermark, nil
}

func renderDigest(events []event.CalendarEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new calendar event(s):\n", len(events))
	for _, ev := range events {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s\n", ev.Summary)
		fmt.Fprintf(&b, "  When: %s\n", formatWindow(&ev))
		if ev.Location != "" {
			fmt.Fprintf(&b, "  Where: %s\n", ev.Location)
		}
		if len(ev.Attendees) > 0 {
			emails := make([]string, 0, len(ev.Attendees))
			for _, a := range ev.Attendees {
				emails = append(emails, a.Email)
			}
			fmt.Fprintf(&b, "  Who: %s\n", strings.Join(emails, ", "))
		}
	}
	return b.String()
}

func formatWindow(ev *event.CalendarEvent) string {
	loc := time.UTC
	if parsed, err := time.LoadLocation(ev.TimeZone); err == nil && ev.TimeZone != "" {
		loc = parsed
	}
	start := ev.Start.In(loc)
	end := ev.End.In(loc)
	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return fmt.Sprintf("%s - %s", start.Format("Mon, 02 Jan 2006 15:04"), end.Format("15:04 MST"))
	}
	return fmt.Sprintf("%s - %s", start.Format("Mon, 02 Jan 2006 15:04"), end.Format("Mon, 02 Jan 2006 15:04 MST"))
}
