// Package notify delivers the side effects committed to the outbox:
// customer email, realtime status broadcasts and carrier shipment
// creation. Delivery is at-least-once; everything here tolerates being
// called twice for the same job.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"tienda/internal/config"
)

// Mailer sends customer email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type smtpMailer struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger zerolog.Logger
}

// NewSMTPMailer builds a Mailer over plain SMTP. When no host is
// configured it returns a Mailer that drops mail with a log line, so
// local environments run without a mail relay.
func NewSMTPMailer(cfg config.SMTPConfig, logger zerolog.Logger) Mailer {
	logger = logger.With().Str("service", "mailer").Logger()

	if cfg.Host == "" {
		logger.Warn().Msg("smtp host not configured, outbound mail disabled")
		return &nopMailer{logger: logger}
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &smtpMailer{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from:   cfg.From,
		auth:   auth,
		logger: logger,
	}
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		m.logger.Error().Err(err).Str("to", to).Str("subject", subject).Msg("failed to send mail")
		return fmt.Errorf("send mail: %w", err)
	}

	m.logger.Debug().Str("to", to).Str("subject", subject).Msg("mail sent")
	return nil
}

type nopMailer struct {
	logger zerolog.Logger
}

func (m *nopMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info().Str("to", to).Str("subject", subject).Msg("mail suppressed")
	return nil
}
