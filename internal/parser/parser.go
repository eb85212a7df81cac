// Package parser turns raw meeting transcripts into structured calendar
// event drafts using an LLM.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/llm"
)

const (
	// summaryMaxRunes bounds summaries synthesized from the transcript
	// when the model does not produce one.
	summaryMaxRunes = 80

	defaultEventDuration = time.Hour
)

const systemPrompt = `You extract calendar events from voice transcripts.
Respond with a single JSON object and nothing else. Fields:
  summary        string, short event title
  description    string, optional details
  location       string, optional
  start          string, RFC 3339 or "2006-01-02T15:04:05" local time, required
  end            string, same format, optional
  timezone       string, IANA zone name, optional
  attendees      array of {"email": string, "displayName": string, "optional": bool}
  recurrence     array of RRULE strings, optional
  status         one of "confirmed", "tentative", "cancelled", optional
Use null or omit fields the transcript does not mention. Never invent
email addresses. If no date or time is mentioned at all, set start to null.`

// Parser extracts event drafts from transcripts.
type Parser struct {
	provider llm.Provider
	location *time.Location
	now      func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the zone used to interpret zone-less timestamps and
// to fill the draft's timezone when the model leaves it out. Defaults to
// UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		p.location = loc
	}
}

// WithNow replaces the clock. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a Parser on top of the given completion provider.
func New(provider llm.Provider, opts ...Option) *Parser {
	p := &Parser{
		provider: provider,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// rawEvent mirrors the JSON shape the model is asked to produce.
type rawEvent struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
	TimeZone    string `json:"timezone"`
	Attendees   []struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Optional    bool   `json:"optional"`
	} `json:"attendees"`
	Recurrence []string `json:"recurrence"`
	Status     string   `json:"status"`
}

// Parse extracts a draft from the transcript. A transcript that mentions
// no date or time yields a *pipeline.ParseError since there is no event
// to schedule.
func (p *Parser) Parse(ctx context.Context, transcript, sourceFile string) (*event.Draft, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, &pipeline.ParseError{Reason: "transcript is empty", RawText: transcript}
	}

	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Current time: %s\nTranscript:\n%s",
				p.now().In(p.location).Format(time.RFC3339), transcript)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("parser: completion: %w", err)
	}

	payload := extractJSON(resp.Content)
	if payload == "" {
		return nil, &pipeline.ParseError{Reason: "model response contains no JSON object", RawText: resp.Content}
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, &pipeline.ParseError{Reason: fmt.Sprintf("malformed JSON: %v", err), RawText: resp.Content}
	}

	return p.toDraft(&raw, transcript, sourceFile, resp.Content)
}

func (p *Parser) toDraft(raw *rawEvent, transcript, sourceFile, rawText string) (*event.Draft, error) {
	if raw.Start == "" {
		return nil, &pipeline.ParseError{Reason: "transcript mentions no date or time", RawText: rawText}
	}
	start, err := p.parseTime(raw.Start)
	if err != nil {
		return nil, &pipeline.ParseError{Reason: fmt.Sprintf("unparseable start time %q", raw.Start), RawText: rawText}
	}

	end := start.Add(defaultEventDuration)
	if raw.End != "" {
		parsed, err := p.parseTime(raw.End)
		if err != nil {
			return nil, &pipeline.ParseError{Reason: fmt.Sprintf("unparseable end time %q", raw.End), RawText: rawText}
		}
		end = parsed
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		summary = truncate(strings.TrimSpace(transcript), summaryMaxRunes)
	}

	tz := raw.TimeZone
	if tz == "" {
		tz = p.location.String()
	}

	draft := &event.Draft{
		Summary:     summary,
		Description: raw.Description,
		Location:    raw.Location,
		Start:       start,
		End:         end,
		TimeZone:    tz,
		Recurrence:  raw.Recurrence,
		Status:      event.StatusConfirmed,
		SourceFile:  sourceFile,
		Transcript:  transcript,
	}
	if raw.Status != "" {
		draft.Status = event.Status(raw.Status)
	}
	for _, a := range raw.Attendees {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			slog.Warn("dropping attendee without valid email",
				"displayName", a.DisplayName, "email", a.Email, "source", sourceFile)
			continue
		}
		draft.Attendees = append(draft.Attendees, event.Attendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Optional:    a.Optional,
		})
	}

	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

// parseTime accepts RFC 3339 and the zone-less layout from the prompt,
// the latter interpreted in the configured location.
func (p *Parser) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, p.location)
}

// extractJSON finds the outermost JSON object in the response, tolerating
// markdown code fences and surrounding prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
