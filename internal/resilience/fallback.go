package resilience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

// fallbackEntry pairs a provider value with the name used in logs.
type fallbackEntry[T any] struct {
	name  string
	value T
}

// FallbackGroup wraps a primary and zero or more fallback instances of
// the same provider type. When the primary fails terminally (a fatal
// error, or transient retries exhausted by the surrounding Policy), the
// next fallback is tried in registration order.
//
// FallbackGroup is safe for concurrent use once construction is complete;
// AddFallback must not race with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string) *FallbackGroup[T] {
	return &FallbackGroup[T]{
		entries: []fallbackEntry[T]{{name: primaryName, value: primary}},
	}
}

// AddFallback appends a fallback provider, tried after the primary in
// the order added.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback})
}

// Execute tries fn against each entry in order until one succeeds,
// returning the result of the first success. Context cancellation stops
// the chain immediately. If every entry fails the last error is returned
// so the caller can still classify it.
func Execute[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (after: %w)", err, lastErr)
			}
			return zero, err
		}
		result, err := fn(ctx, entry.value)
		if err == nil {
			if i > 0 {
				slog.Info("fallback provider succeeded", "provider", entry.name)
			}
			return result, nil
		}
		lastErr = err
		if pipeline.IsFatal(err) {
			slog.Warn("provider failed fatally, trying next", "provider", entry.name, "err", err)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, lastErr
}
