// Package event defines the calendar event model shared by the parser,
// the publisher, and the event store, together with its validation rules.
package event

import "time"

// Status is the scheduling state of an event.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is one of the known status values.
func (s Status) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusTentative, StatusCancelled:
		return true
	}
	return false
}

// Visibility controls who may see event details on the remote calendar.
type Visibility string

const (
	VisibilityDefault      Visibility = "default"
	VisibilityPublic       Visibility = "public"
	VisibilityPrivate      Visibility = "private"
	VisibilityConfidential Visibility = "confidential"
)

// IsValid reports whether v is one of the known visibility values.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityDefault, VisibilityPublic, VisibilityPrivate, VisibilityConfidential:
		return true
	}
	return false
}

// Transparency determines whether the event blocks time on the attendees'
// free/busy view.
type Transparency string

const (
	TransparencyOpaque      Transparency = "opaque"
	TransparencyTransparent Transparency = "transparent"
)

// IsValid reports whether t is one of the known transparency values.
func (t Transparency) IsValid() bool {
	return t == TransparencyOpaque || t == TransparencyTransparent
}

// Attendee is a single invited participant.
type Attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// ReminderOverride is one custom reminder on an event.
type ReminderOverride struct {
	// Method is the delivery channel, e.g. "email" or "popup".
	Method string `json:"method"`

	// Minutes before the event start at which the reminder fires.
	Minutes int `json:"minutes"`
}

// Reminders configures notification behaviour for an event.
type Reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []ReminderOverride `json:"overrides,omitempty"`
}

// Draft is an event as produced by the parser, before validation and
// before it has any local or remote identity.
type Draft struct {
	Summary      string       `json:"summary"`
	Description  string       `json:"description,omitempty"`
	Location     string       `json:"location,omitempty"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	TimeZone     string       `json:"timeZone,omitempty"`
	Attendees    []Attendee   `json:"attendees,omitempty"`
	Recurrence   []string     `json:"recurrence,omitempty"`
	Reminders    *Reminders   `json:"reminders,omitempty"`
	Status       Status       `json:"status,omitempty"`
	Visibility   Visibility   `json:"visibility,omitempty"`
	Transparency Transparency `json:"transparency,omitempty"`

	// SourceFile names the recording the draft was parsed from. Stored for
	// traceability, never sent to the remote calendar.
	SourceFile string `json:"sourceFile,omitempty"`

	// Transcript is the full transcribed text the draft was derived from.
	Transcript string `json:"transcript,omitempty"`
}

// CalendarEvent is a persisted event: a Draft plus the identities and
// timestamps assigned by the remote calendar and the event store.
type CalendarEvent struct {
	ID int64 `json:"id"`

	// RemoteID is the identifier assigned by the external calendar,
	// empty if the event was stored without publishing.
	RemoteID string `json:"remoteId,omitempty"`

	Draft

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
