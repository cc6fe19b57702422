package mailer

import (
	"context"
	"errors"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTP struct {
	client *mail.Client
	from   string
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("mailer: smtp host and from address are required")
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Pass),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}

	return &SMTP{
		client: client,
		from:   cfg.From,
	}, nil
}

func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return m.client.DialAndSendWithContext(ctx, msg)
}
