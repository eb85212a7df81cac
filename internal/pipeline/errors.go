// Package pipeline defines the error taxonomy and per-recording state
// machine shared by every stage of the voice-to-calendar pipeline.
//
// Stages classify their failures into one of the types below so that the
// orchestrator can decide, without knowing anything stage-specific, whether
// to retry, abort the recording, or surface a partial result.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by file sources when a previously listed
// recording no longer exists remotely. The orchestrator skips the
// recording without counting it as a failure.
var ErrNotFound = errors.New("pipeline: recording not found")

// TransientError wraps a failure that is expected to succeed on retry,
// such as a network timeout, a 429, or a 5xx from an upstream service.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FatalError wraps a failure that retrying cannot fix: invalid credentials,
// unsupported audio format, a 4xx from an upstream service.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable. A nil err returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether any error in err's chain is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ValidationError describes one or more invariant violations on an event
// about to be persisted. It aborts the recording immediately.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation: " + e.Violations[0]
	}
	return fmt.Sprintf("validation: %d violations: %v", len(e.Violations), e.Violations)
}

// ParseError indicates the language model's output could not be turned
// into an event with a usable time window. Never retried: the transcript
// itself lacks the information.
type ParseError struct {
	Reason  string
	RawText string
}

func (e *ParseError) Error() string { return "parse: " + e.Reason }

// StorageError wraps database transport failures (as opposed to
// constraint violations, which surface as ValidationError).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// MigrationError is returned when a legacy schema migration fails and has
// been rolled back. The database is left in its pre-migration state.
type MigrationError struct {
	Step string
	Err  error
}

func (e *MigrationError) Error() string { return "migration: " + e.Step + ": " + e.Err.Error() }

func (e *MigrationError) Unwrap() error { return e.Err }

// PartialFailureError reports that the remote calendar accepted the event
// but the local insert failed. RemoteID identifies the calendar entry so
// an operator can reconcile; the event must not be published again.
type PartialFailureError struct {
	RemoteID string
	Err      error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: published as %s but not stored: %v", e.RemoteID, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator should retry the operation
// that produced err. Only transient errors qualify; everything else in
// the taxonomy aborts the recording.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var (
		ve *ValidationError
		pe *ParseError
		pf *PartialFailureError
	)
	if IsFatal(err) || errors.As(err, &ve) || errors.As(err, &pe) || errors.As(err, &pf) {
		return false
	}
	return IsTransient(err)
}
