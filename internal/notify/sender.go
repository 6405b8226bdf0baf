package notify

import (
	"context"
	"errors"
	"fmt"

	"clinicrooms/internal/config"
	"clinicrooms/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrNotConfigured = errors.New("notify: sendgrid client not configured")

// SendGridSender sends plain-text mail through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

var _ domain.NotificationSender = (*SendGridSender)(nil)

// NewSender returns a SendGrid sender when an API key is configured and a
// log-only sender otherwise.
func NewSender(cfg config.NotificationConfig, logger *zerolog.Logger) domain.NotificationSender {
	if cfg.SendGridAPIKey == "" {
		return NewLogSender(logger)
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With().Str("component", "sendgrid").Logger(),
	}
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, body string) error {
	if s.client == nil {
		return ErrNotConfigured
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error().Int("status", resp.StatusCode).Str("body", resp.Body).Str("to", to).Msg("SendGrid returned error status")
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Debug().Str("to", to).Str("subject", subject).Msg("Email sent")
	return nil
}

// LogSender only logs. Used when no mail provider is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify_log").Logger()
	}
	return &LogSender{logger: l}
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Msg("Email not sent, no provider configured")
	return nil
}
