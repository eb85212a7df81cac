package pipeline_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

func TestTransientNil(t *testing.T) {
	t.Parallel()
	if pipeline.Transient(nil) != nil {
		t.Fatal("Transient(nil) should be nil")
	}
	if pipeline.Fatal(nil) != nil {
		t.Fatal("Fatal(nil) should be nil")
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
		retryable bool
	}{
		{"transient", pipeline.Transient(base), true, false, true},
		{"fatal", pipeline.Fatal(base), false, true, false},
		{"wrapped transient", fmt.Errorf("download: %w", pipeline.Transient(base)), true, false, true},
		{"wrapped fatal", fmt.Errorf("transcribe: %w", pipeline.Fatal(base)), false, true, false},
		{"plain", base, false, false, false},
		{"not found", pipeline.ErrNotFound, false, false, false},
		{"validation", &pipeline.ValidationError{Violations: []string{"empty summary"}}, false, false, false},
		{"parse", &pipeline.ParseError{Reason: "no time window"}, false, false, false},
		{"partial", &pipeline.PartialFailureError{RemoteID: "abc", Err: base}, false, false, false},
		{"nil", nil, false, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := pipeline.IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := pipeline.IsFatal(tc.err); got != tc.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tc.fatal)
			}
			if got := pipeline.Retryable(tc.err); got != tc.retryable {
				t.Errorf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestTransientWrappingFatalIsNotRetryable(t *testing.T) {
	t.Parallel()
	// A fatal cause anywhere in the chain wins over an outer transient
	// wrapper; retrying cannot fix it.
	err := pipeline.Transient(pipeline.Fatal(errors.New("bad key")))
	if pipeline.Retryable(err) {
		t.Fatal("fatal cause must not be retryable")
	}
}

func TestPartialFailureMessage(t *testing.T) {
	t.Parallel()
	pf := &pipeline.PartialFailureError{RemoteID: "evt_42", Err: errors.New("insert timeout")}
	want := "partial failure: published as evt_42 but not stored: insert timeout"
	if pf.Error() != want {
		t.Fatalf("Error() = %q, want %q", pf.Error(), want)
	}
	if !errors.Is(pf, pf.Err) {
		t.Fatal("PartialFailureError must unwrap to its cause")
	}
}
