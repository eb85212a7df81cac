// Package calendar defines the provider interface for external calendar
// services that event drafts are published to.
package calendar

import (
	"context"

	"github.com/MrWong99/voxcal/internal/event"
)

// Provider creates events in an external calendar.
//
// CreateEvent must be idempotent with respect to key: creating the same
// draft twice with the same key returns the same remote ID without
// producing a duplicate event. The key is restricted to lowercase hex so
// every backend can use it as a native event identifier. Implementations
// return pipeline.TransientError for failures worth retrying and
// pipeline.FatalError for the rest.
type Provider interface {
	CreateEvent(ctx context.Context, draft *event.Draft, key string) (remoteID string, err error)
}
