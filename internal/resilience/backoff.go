// Package resilience provides the retry policy and provider fallback used
// by the pipeline orchestrator around external calls.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

// maxDelayCap bounds the exponential backoff so a generous retry budget
// cannot stall a worker for hours.
const maxDelayCap = 5 * time.Minute

// Policy retries an operation on transient failures with exponential
// backoff. Errors outside the transient class abort immediately.
//
// The zero value never retries; use NewPolicy.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	jitter     bool

	// sleep and rng are injectable for tests.
	sleep func(context.Context, time.Duration) error
	rng   *rand.Rand
}

// PolicyOption customises a Policy.
type PolicyOption func(*Policy)

// WithJitter enables full jitter: each delay is drawn uniformly from
// [0, exponential delay). Spreads simultaneous retries from parallel
// workers.
func WithJitter(rng *rand.Rand) PolicyOption {
	return func(p *Policy) {
		p.jitter = true
		p.rng = rng
	}
}

// WithSleep replaces the delay function. Test hook.
func WithSleep(sleep func(context.Context, time.Duration) error) PolicyOption {
	return func(p *Policy) { p.sleep = sleep }
}

// NewPolicy returns a Policy that allows up to maxRetries retries (so at
// most maxRetries+1 calls) with delays of baseDelay * 2^attempt.
func NewPolicy(maxRetries int, baseDelay time.Duration, opts ...PolicyOption) *Policy {
	p := &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Do runs fn, retrying transient failures until it succeeds, the retry
// budget is exhausted, or ctx is cancelled. op names the operation for
// logging. The last error is returned unmodified so callers can still
// classify it.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !pipeline.Retryable(err) || attempt >= p.maxRetries {
			return err
		}

		d := p.delay(attempt)
		slog.Warn("transient failure, retrying",
			"op", op, "attempt", attempt+1, "max_retries", p.maxRetries, "delay", d, "err", err)
		if serr := p.sleep(ctx, d); serr != nil {
			return fmt.Errorf("%s: %w (after: %w)", op, serr, err)
		}
	}
}

// DoWithResult is Do for operations that return a value. Package-level
// because Go has no method-level type parameters.
func DoWithResult[R any](ctx context.Context, p *Policy, op string, fn func(context.Context) (R, error)) (R, error) {
	var result R
	err := p.Do(ctx, op, func(ctx context.Context) error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	return result, err
}

// delay computes the backoff before retry number attempt (0-based):
// baseDelay doubled per attempt, capped, optionally jittered.
func (p *Policy) delay(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	d := p.baseDelay << uint(attempt)
	if d > maxDelayCap || d <= 0 {
		d = maxDelayCap
	}
	if p.jitter && p.rng != nil && d > 0 {
		d = time.Duration(p.rng.Int63n(int64(d)))
	}
	return d
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
