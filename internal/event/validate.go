package event

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

// Validate checks the invariants an event must satisfy before it may be
// published or persisted. All violations are collected so a caller sees
// every problem at once; a non-nil result is always a
// *pipeline.ValidationError.
func (d *Draft) Validate() error {
	var violations []string

	if strings.TrimSpace(d.Summary) == "" {
		violations = append(violations, "summary must not be empty")
	}
	if d.Start.IsZero() {
		violations = append(violations, "start time is required")
	}
	if d.End.IsZero() {
		violations = append(violations, "end time is required")
	}
	if !d.Start.IsZero() && !d.End.IsZero() && !d.End.After(d.Start) {
		violations = append(violations, fmt.Sprintf("end %s must be after start %s",
			d.End.Format("2006-01-02T15:04:05Z07:00"), d.Start.Format("2006-01-02T15:04:05Z07:00")))
	}
	for i, a := range d.Attendees {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			violations = append(violations, fmt.Sprintf("attendee %d: invalid email %q", i, a.Email))
		}
	}
	if d.Status != "" && !d.Status.IsValid() {
		violations = append(violations, fmt.Sprintf("unknown status %q", d.Status))
	}
	if d.Visibility != "" && !d.Visibility.IsValid() {
		violations = append(violations, fmt.Sprintf("unknown visibility %q", d.Visibility))
	}
	if d.Transparency != "" && !d.Transparency.IsValid() {
		violations = append(violations, fmt.Sprintf("unknown transparency %q", d.Transparency))
	}

	if len(violations) > 0 {
		return &pipeline.ValidationError{Violations: violations}
	}
	return nil
}
