// Package mailer delivers outgoing email through SMTP, the Resend HTTP API,
// or the log.
package mailer

import (
	"context"
	"errors"
)

var ErrNoRecipient = errors.New("message has no recipient")

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer sends a message and returns the transport's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}
