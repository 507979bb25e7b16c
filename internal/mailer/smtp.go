package mailer

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, pass), from: from}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From
	if from == "" {
		from = m.from
	}
	id := fmt.Sprintf("<%s@racereg>", uuid.NewString())

	gm := gomail.NewMessage()
	gm.SetHeader("From", from)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", id)
	gm.SetBody("text/html", msg.HTML)
	for _, a := range msg.Attachments {
		content := a.Content
		gm.Attach(a.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}

	if err := m.dialer.DialAndSend(gm); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}
