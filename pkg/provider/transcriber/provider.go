// Package transcriber defines the Provider interface for speech-to-text
// backends that transcribe complete audio recordings.
//
// Unlike a streaming recogniser, a transcriber works on whole files: the
// pipeline hands it a downloaded recording and receives the full text
// back. Implementors must be safe for concurrent use.
package transcriber

import (
	"context"
	"io"
)

// Provider is the abstraction over any batch speech-to-text backend.
//
// Transcribe errors follow the pipeline taxonomy: rate limits, 5xx
// responses, and network failures are wrapped as transient; rejections of
// the audio itself (unsupported format, bad credentials) as fatal. The
// orchestrator relies on that classification to decide whether to retry.
type Provider interface {
	// Transcribe reads one complete audio file from audio and returns its
	// transcribed text. filename carries the original name so the backend
	// can derive the container format from the extension.
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}
