// Package messaging renders reminder payloads and delivers them through
// an outbound provider. Delivery is at-least-once: the caller records
// success in the dispatch ledger, and a crash between send and record is
// an accepted single-duplicate failure mode.
package messaging

import (
	"context"

	"github.com/rs/zerolog"
)

// Payload is the contextual content of one reminder notification.
type Payload struct {
	DealID       string
	DealName     string
	ReminderType string
	Role         string
	RecipientID  string
	Extra        Extra
}

// Extra carries the per-type contextual fields. Pointer fields are nil
// when the field does not apply to the reminder type.
type Extra struct {
	DaysRemaining  *int
	HoursRemaining *int
	PendingCount   *int
	HasCommitted   *bool
}

// Recipient is a resolved delivery target.
type Recipient struct {
	ID    string
	Name  string
	Email string
}

// Sender delivers a rendered reminder to one recipient.
type Sender interface {
	Send(ctx context.Context, to Recipient, templateKey string, payload Payload) error
}

// LogSender writes reminders to the log instead of delivering them.
// Used by the simulate command and as the default provider when no
// credentials are configured.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender constructs a log-only sender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

// Send logs the rendered message at info level.
func (s *LogSender) Send(ctx context.Context, to Recipient, templateKey string, payload Payload) error {
	subject, body, err := Render(templateKey, payload)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("recipient_id", to.ID).
		Str("deal_id", payload.DealID).
		Str("reminder_type", payload.ReminderType).
		Str("template", templateKey).
		Str("subject", subject).
		Str("body", body).
		Msg("reminder dispatched (log only)")
	return nil
}

var _ Sender = (*LogSender)(nil)
