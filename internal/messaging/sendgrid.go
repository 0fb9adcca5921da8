package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridOptions configure the SendGrid sender.
type SendGridOptions struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SendGridSender delivers reminders as email through SendGrid.
type SendGridSender struct {
	client  *sendgrid.Client
	from    *mail.Email
	timeout time.Duration
	logger  zerolog.Logger
}

// NewSendGridSender constructs a SendGrid-backed sender.
func NewSendGridSender(opts SendGridOptions, logger zerolog.Logger) *SendGridSender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := sendgrid.NewSendClient(opts.APIKey)
	if opts.BaseURL != "" {
		client.Request.BaseURL = strings.TrimRight(opts.BaseURL, "/") + "/v3/mail/send"
	}

	return &SendGridSender{
		client:  client,
		from:    mail.NewEmail(opts.FromName, opts.FromEmail),
		timeout: opts.Timeout,
		logger:  logger.With().Str("component", "sendgrid_sender").Logger(),
	}
}

// Send renders the template and posts a single email. The call carries a
// bounded timeout so one slow recipient cannot stall a whole tick.
func (s *SendGridSender) Send(ctx context.Context, to Recipient, templateKey string, payload Payload) error {
	subject, body, err := Render(templateKey, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	message := mail.NewSingleEmail(s.from, subject, mail.NewEmail(to.Name, to.Email), body, "<p>"+body+"</p>")
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid responded %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}

	s.logger.Debug().
		Str("recipient_id", to.ID).
		Str("deal_id", payload.DealID).
		Str("reminder_type", payload.ReminderType).
		Msg("reminder email accepted")
	return nil
}

var _ Sender = (*SendGridSender)(nil)
