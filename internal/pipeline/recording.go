package pipeline

import (
	"fmt"
	"time"
)

// Stage identifies a completed step in a recording's lifecycle. The value
// names the state the recording has reached, not the work in progress, so
// a Failed recording carries the stage it was attempting to leave.
type Stage string

const (
	StageDiscovered  Stage = "Discovered"
	StageDownloaded  Stage = "Downloaded"
	StageTranscribed Stage = "Transcribed"
	StageParsed      Stage = "Parsed"
	StagePublished   Stage = "Published"
	StageStored      Stage = "Stored"
	StageDone        Stage = "Done"
	StageFailed      Stage = "Failed"
)

// next maps each stage to its legal successor. Terminal stages are absent.
var next = map[Stage]Stage{
	StageDiscovered:  StageDownloaded,
	StageDownloaded:  StageTranscribed,
	StageTranscribed: StageParsed,
	StageParsed:      StagePublished,
	StagePublished:   StageStored,
	StageStored:      StageDone,
}

// Terminal reports whether s is an end state of the lifecycle.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

// Recording tracks one voice file's progress through the pipeline. It is
// owned by a single worker goroutine; no internal locking.
type Recording struct {
	// Ref is the file source's identifier for the audio file.
	Ref string

	// Name is the human-readable file name, used in logs and failure
	// reports.
	Name string

	stage    Stage
	failedAt Stage
	reason   error

	// Attempts counts retry attempts consumed across the whole recording.
	Attempts int

	// TempPath is the local scratch file holding the downloaded audio.
	// Cleaned up unconditionally when the recording reaches a terminal
	// stage.
	TempPath string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRecording returns a Recording in the Discovered stage.
func NewRecording(ref, name string) *Recording {
	return &Recording{Ref: ref, Name: name, stage: StageDiscovered, StartedAt: time.Now()}
}

// Stage returns the recording's current stage.
func (r *Recording) Stage() Stage { return r.stage }

// Advance moves the recording to the next stage in the lifecycle.
// Advancing a terminal recording or skipping a stage is a programming
// error and returns one.
func (r *Recording) Advance() error {
	n, ok := next[r.stage]
	if !ok {
		return fmt.Errorf("pipeline: cannot advance from terminal stage %s", r.stage)
	}
	r.stage = n
	if n == StageDone {
		r.FinishedAt = time.Now()
	}
	return nil
}

// Fail moves the recording to the Failed terminal state, remembering the
// stage whose work could not complete and the causing error. Calling Fail
// on an already terminal recording is a no-op so that late cleanup errors
// cannot mask the original failure.
func (r *Recording) Fail(reason error) {
	if r.stage.Terminal() {
		return
	}
	// The failure belongs to the stage being attempted, not the one
	// already reached: a transcription error fails at Transcribed.
	if n, ok := next[r.stage]; ok {
		r.failedAt = n
	} else {
		r.failedAt = r.stage
	}
	r.reason = reason
	r.stage = StageFailed
	r.FinishedAt = time.Now()
}

// FailedAt returns the stage whose work was underway when Fail was
// called, or "" if the recording has not failed.
func (r *Recording) FailedAt() Stage { return r.failedAt }

// Reason returns the error that terminated the recording, or nil.
func (r *Recording) Reason() error { return r.reason }
