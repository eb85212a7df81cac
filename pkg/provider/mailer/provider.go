// Package mailer defines the provider interface for sending notification
// mail.
package mailer

import "context"

// Message is a plain-text mail.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Provider delivers messages. Implementations return
// pipeline.TransientError when delivery may succeed on retry.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}
