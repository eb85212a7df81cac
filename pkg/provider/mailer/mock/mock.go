// Package mock provides a mailer.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcal/pkg/provider/mailer"
)

// Provider records every message instead of sending it.
type Provider struct {
	mu sync.Mutex

	SendErr error

	// SendFunc overrides the default behavior when set.
	SendFunc func(ctx context.Context, msg mailer.Message) error

	sent []mailer.Message
}

var _ mailer.Provider = (*Provider)(nil)

func (p *Provider) Send(ctx context.Context, msg mailer.Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	fn := p.SendFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return p.SendErr
}

// Sent returns all recorded messages.
func (p *Provider) Sent() []mailer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mailer.Message(nil), p.sent...)
}
