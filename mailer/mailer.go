// Package mailer delivers fingate's one-time codes. SMTP sends through
// go-mail; Log writes messages to slog for local development.
package mailer

import (
	"context"
	"log/slog"
)

// Log records messages instead of sending them. Never use it in production:
// message bodies carry live passcodes.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log mailer. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (m *Log) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "mail sent",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}
