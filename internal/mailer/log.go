package mailer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogMailer only records what would have been sent. Used in development.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipient
	}
	id := uuid.NewString()
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	m.log.Info("Email not sent, log transport", "message_id", id, "to", msg.To, "subject", msg.Subject, "attachments", names)
	return id, nil
}
