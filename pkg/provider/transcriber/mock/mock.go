// Package mock provides a test double for the transcriber.Provider
// interface.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxcal/pkg/provider/transcriber"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Filename is the name passed to Transcribe.
	Filename string
	// Audio is the full content read from the audio reader.
	Audio []byte
}

// Provider is a mock implementation of transcriber.Provider.
// Set Text and Err for static behaviour, or TranscribeFunc for per-call
// behaviour (it takes precedence).
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, is invoked instead of the static fields.
	// The audio content has already been drained into the recorded Call.
	TranscribeFunc func(ctx context.Context, filename string) (string, error)

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []Call
}

// Transcribe drains audio, records the call, and returns the scripted
// result.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, Call{Filename: filename, Audio: data})
	fn := p.TranscribeFunc
	text, serr := p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, filename)
	}
	return text, serr
}

// Calls returns a copy of the recorded invocations. Thread-safe.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]Call, len(p.TranscribeCalls))
	copy(calls, p.TranscribeCalls)
	return calls
}

// Ensure Provider implements transcriber.Provider at compile time.
var _ transcriber.Provider = (*Provider)(nil)
