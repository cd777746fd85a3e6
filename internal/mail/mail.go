// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package mail delivers auth.Message values over SMTP, or to the log when no
// SMTP server is configured.
package mail

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
}

// Enabled reports whether an SMTP host is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender implements auth.Mailer with gomail.
type SMTPSender struct {
	dialer   dialer
	from     string
	fromName string
}

var _ auth.Mailer = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTPSender. Host, port and sender address are required.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 || cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("host", cfg.Host).
			With("port", cfg.Port).
			Errorf("smtp host, port and from address are required")
	}
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
	}, nil
}

// Send delivers msg as a plain text email. The SMTP exchange itself is not
// cancellable; ctx is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg auth.Message) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_CANCELLED").Wrap(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	m.SetHeader("To", m.FormatAddress(msg.To, msg.Name))
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("to", msg.To).
			With("subject", msg.Subject).
			Wrap(err)
	}
	return nil
}

// LogSender implements auth.Mailer by logging each message. It is meant for
// development setups without an SMTP server. Bodies carry one-time codes, so
// they are only emitted at debug level.
type LogSender struct {
	logger *slog.Logger
}

var _ auth.Mailer = (*LogSender)(nil)

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg auth.Message) error {
	s.logger.InfoContext(ctx, "mail not delivered, smtp disabled",
		"to", msg.To,
		"subject", msg.Subject)
	s.logger.DebugContext(ctx, "undelivered mail body",
		"to", msg.To,
		"body", msg.Body)
	return nil
}

// New returns an SMTPSender when cfg enables SMTP, and a LogSender otherwise.
func New(cfg SMTPConfig, logger *slog.Logger) (auth.Mailer, error) {
	if !cfg.Enabled() {
		return NewLogSender(logger), nil
	}
	return NewSMTPSender(cfg)
}
