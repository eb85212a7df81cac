// Package smtp implements a mailer.Provider over plain SMTP with
// optional AUTH PLAIN.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/mailer"
)

// Provider sends mail through a single SMTP relay.
type Provider struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ mailer.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithAuth enables AUTH PLAIN against the relay. host must match the
// hostname part of the relay address.
func WithAuth(username, password, host string) Option {
	return func(p *Provider) {
		p.auth = smtp.PlainAuth("", username, password, host)
	}
}

// WithSendFunc replaces the wire-level send. Intended for tests.
func WithSendFunc(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) Option {
	return func(p *Provider) {
		p.send = fn
	}
}

// New creates an SMTP provider. addr is "host:port", from is the sender
// address placed in both the envelope and the From header.
func New(addr, from string, opts ...Option) (*Provider, error) {
	if addr == "" {
		return nil, errors.New("smtp: relay address must not be empty")
	}
	if from == "" {
		return nil, errors.New("smtp: sender address must not be empty")
	}
	p := &Provider{addr: addr, from: from, send: smtp.SendMail}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Send delivers the message. SMTP failures are treated as transient
// since relays routinely refuse connections under load.
func (p *Provider) Send(ctx context.Context, msg mailer.Message) error {
	if len(msg.To) == 0 {
		return errors.New("smtp: message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- p.send(p.addr, p.auth, p.from, msg.To, render(p.from, msg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return pipeline.Transient(fmt.Errorf("smtp: send to %s: %w", strings.Join(msg.To, ", "), err))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func render(from string, msg mailer.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	// SMTP requires CRLF line endings in the body as well.
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
