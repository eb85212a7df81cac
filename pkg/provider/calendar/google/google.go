// Package google implements a calendar.Provider on top of the Google
// Calendar API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/calendar"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Provider publishes events into a single Google calendar.
type Provider struct {
	service    *gcal.Service
	calendarID string
}

var _ calendar.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*options)

type options struct {
	tokenFile  string
	calendarID string
	client     *http.Client
}

// WithTokenFile sets the path of the stored OAuth2 token. Defaults to
// "token-calendar.json" in the working directory.
func WithTokenFile(path string) Option {
	return func(o *options) {
		o.tokenFile = path
	}
}

// WithCalendarID targets a specific calendar instead of "primary".
func WithCalendarID(id string) Option {
	return func(o *options) {
		o.calendarID = id
	}
}

// WithHTTPClient bypasses the OAuth2 flow entirely and uses the given
// client for all API calls. Intended for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// New creates a Calendar provider. clientID and clientSecret are the
// OAuth2 application credentials; the user token must already exist on
// disk (see WithTokenFile).
func New(ctx context.Context, clientID, clientSecret string, opts ...Option) (*Provider, error) {
	o := options{tokenFile: "token-calendar.json", calendarID: "primary"}
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		if clientID == "" || clientSecret == "" {
			return nil, errors.New("google: client ID and secret must not be empty")
		}
		cfg := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{gcal.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		}
		token, err := tokenFromFile(o.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("google: load token %s: %w", o.tokenFile, err)
		}
		client = cfg.Client(ctx, token)
	}

	service, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("google: create service: %w", err)
	}
	return &Provider{service: service, calendarID: o.calendarID}, nil
}

// CreateEvent inserts the draft using key as the event ID. When the ID is
// already taken the event from an earlier attempt is kept and its ID
// returned, so retried publishes never duplicate.
func (p *Provider) CreateEvent(ctx context.Context, draft *event.Draft, key string) (string, error) {
	created, err := p.service.Events.Insert(p.calendarID, toGoogleEvent(draft, key)).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			slog.Info("calendar event already exists, reusing", "id", key, "summary", draft.Summary)
			return key, nil
		}
		return "", classify(draft.Summary, err)
	}
	return created.Id, nil
}

func toGoogleEvent(draft *event.Draft, key string) *gcal.Event {
	ev := &gcal.Event{
		Id:          key,
		Summary:     draft.Summary,
		Description: draft.Description,
		Location:    draft.Location,
		Start:       toDateTime(draft.Start, draft.TimeZone),
		End:         toDateTime(draft.End, draft.TimeZone),
		Recurrence:  draft.Recurrence,
	}
	if draft.Status != "" {
		ev.Status = string(draft.Status)
	}
	if draft.Visibility != "" {
		ev.Visibility = string(draft.Visibility)
	}
	if draft.Transparency != "" {
		ev.Transparency = string(draft.Transparency)
	}
	for _, a := range draft.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Optional:    a.Optional,
		})
	}
	if draft.Reminders != nil {
		rem := &gcal.EventReminders{
			UseDefault:      draft.Reminders.UseDefault,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, o := range draft.Reminders.Overrides {
			rem.Overrides = append(rem.Overrides, &gcal.EventReminder{
				Method:  o.Method,
				Minutes: int64(o.Minutes),
			})
		}
		ev.Reminders = rem
	}
	return ev
}

func toDateTime(t time.Time, tz string) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: tz,
	}
}

func classify(summary string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return pipeline.Transient(fmt.Errorf("google: insert %q: %w", summary, err))
		}
		return pipeline.Fatal(fmt.Errorf("google: insert %q: %w", summary, err))
	}
	return pipeline.Transient(fmt.Errorf("google: insert %q: %w", summary, err))
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
