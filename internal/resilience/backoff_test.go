package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/internal/resilience"
)

// instantSleep records requested delays without waiting.
func instantSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	p := resilience.NewPolicy(3, time.Second)
	calls := 0
	err := p.Do(context.Background(), "noop", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d, want nil/1", err, calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := resilience.NewPolicy(3, 2*time.Second, resilience.WithSleep(instantSleep(&delays)))

	calls := 0
	err := p.Do(context.Background(), "download", func(context.Context) error {
		calls++
		if calls == 1 {
			return pipeline.Transient(errors.New("timeout"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want exactly 2", calls)
	}
	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Fatalf("delays = %v, want [2s]", delays)
	}
}

func TestDoExponentialDelays(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := resilience.NewPolicy(3, time.Second, resilience.WithSleep(instantSleep(&delays)))

	transient := pipeline.Transient(errors.New("busy"))
	err := p.Do(context.Background(), "publish", func(context.Context) error { return transient })
	if !errors.Is(err, transient) {
		t.Fatalf("expected last transient error back, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoFatalAbortsImmediately(t *testing.T) {
	t.Parallel()
	p := resilience.NewPolicy(5, time.Second, resilience.WithSleep(func(context.Context, time.Duration) error {
		t.Fatal("no sleep expected for fatal errors")
		return nil
	}))
	calls := 0
	fatal := pipeline.Fatal(errors.New("bad credentials"))
	err := p.Do(context.Background(), "transcribe", func(context.Context) error {
		calls++
		return fatal
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !pipeline.IsFatal(err) {
		t.Fatalf("error lost its classification: %v", err)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := resilience.NewPolicy(3, time.Second, resilience.WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	err := p.Do(ctx, "fetch", func(context.Context) error {
		return pipeline.Transient(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in chain", err)
	}
}

func TestDoWithResult(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := resilience.NewPolicy(2, time.Second, resilience.WithSleep(instantSleep(&delays)))

	calls := 0
	got, err := resilience.DoWithResult(context.Background(), p, "transcribe", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", pipeline.Transient(errors.New("503"))
		}
		return "hello world", nil
	})
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
