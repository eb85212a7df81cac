// Package mock provides a calendar.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/pkg/provider/calendar"
)

// Call records a single CreateEvent invocation.
type Call struct {
	Draft *event.Draft
	Key   string
}

// Provider is a configurable calendar for tests.
type Provider struct {
	mu sync.Mutex

	// RemoteID is returned on success; when empty the key is echoed back,
	// matching how real backends adopt the supplied identifier.
	RemoteID  string
	CreateErr error

	// CreateFunc overrides the default behavior when set.
	CreateFunc func(ctx context.Context, draft *event.Draft, key string) (string, error)

	calls []Call
}

var _ calendar.Provider = (*Provider)(nil)

func (p *Provider) CreateEvent(ctx context.Context, draft *event.Draft, key string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Draft: draft, Key: key})
	fn := p.CreateFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, draft, key)
	}
	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	if p.RemoteID != "" {
		return p.RemoteID, nil
	}
	return key, nil
}

// Calls returns all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
