// Package dispatch turns due reminder thresholds into at-most-once
// recorded notifications: evaluate thresholds, resolve recipients,
// filter against the ledger, render, send, record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"deal-reminders/internal/deal"
	"deal-reminders/internal/messaging"
	"deal-reminders/internal/reminder"
	"deal-reminders/internal/storage"
)

// Dispatcher processes one deal at a time. It holds no per-deal state
// and is safe to share across the tick worker pool; all idempotency is
// delegated to the ledger's conditional append.
type Dispatcher struct {
	table       reminder.Table
	ledger      storage.Ledger
	commitments storage.CommitmentStore
	members     storage.MemberStore
	sender      messaging.Sender
	logger      zerolog.Logger
}

// New constructs a Dispatcher.
func New(table reminder.Table, ledger storage.Ledger, commitments storage.CommitmentStore, members storage.MemberStore, sender messaging.Sender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		table:       table,
		ledger:      ledger,
		commitments: commitments,
		members:     members,
		sender:      sender,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchDue evaluates the threshold table for one deal and sends every
// reminder that is due and not yet recorded. A failed send leaves the
// ledger untouched so the next tick retries; a failed ledger write after
// a successful send is logged as a known inconsistency and accepted as a
// single-duplicate risk.
func (d *Dispatcher) DispatchDue(ctx context.Context, dl *deal.Deal, now time.Time) error {
	due := d.table.Due(now, dl)
	if len(due) == 0 {
		return nil
	}

	for _, rule := range due {
		if err := d.dispatchRule(ctx, dl, rule, now); err != nil {
			return fmt.Errorf("dispatch %s for deal %s: %w", rule.Type, dl.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchRule(ctx context.Context, dl *deal.Deal, rule reminder.Rule, now time.Time) error {
	pending := 0
	if rule.RequiresPending {
		count, err := d.commitments.CountPendingCommitments(ctx, dl.ID)
		if err != nil {
			return fmt.Errorf("count pending commitments: %w", err)
		}
		if count == 0 {
			return nil
		}
		pending = count
	}

	templateKey, err := messaging.TemplateKeyFor(string(rule.Type), string(rule.Role))
	if err != nil {
		// Configuration error: skip this reminder, surface to operator,
		// do not fail the deal.
		d.logger.Error().Err(err).
			Str("deal_id", dl.ID).
			Str("reminder_type", string(rule.Type)).
			Msg("reminder skipped: no template registered")
		return nil
	}

	recipients, committed, err := d.resolveRecipients(ctx, dl, rule)
	if err != nil {
		return err
	}

	for _, recipient := range recipients {
		sent, err := d.ledger.HasSent(ctx, dl.ID, string(rule.Type), recipient.ID)
		if err != nil {
			return fmt.Errorf("ledger lookup: %w", err)
		}
		if sent {
			continue
		}

		payload := d.buildPayload(dl, rule, recipient, now, pending, committed[recipient.ID])

		if err := d.sender.Send(ctx, recipient, templateKey, payload); err != nil {
			if errors.Is(err, messaging.ErrTemplateNotFound) {
				d.logger.Error().Err(err).
					Str("deal_id", dl.ID).
					Str("reminder_type", string(rule.Type)).
					Msg("reminder skipped: template missing at render time")
				break
			}
			// Transient delivery failure: no ledger write, retried on
			// the next tick.
			d.logger.Warn().Err(err).
				Str("deal_id", dl.ID).
				Str("reminder_type", string(rule.Type)).
				Str("recipient_id", recipient.ID).
				Msg("reminder send failed; will retry next tick")
			continue
		}

		alreadyExisted, err := d.ledger.RecordSent(ctx, dl.ID, string(rule.Type), recipient.ID, now)
		if err != nil {
			d.logger.Error().Err(err).
				Str("deal_id", dl.ID).
				Str("reminder_type", string(rule.Type)).
				Str("recipient_id", recipient.ID).
				Msg("sent but not recorded; duplicate possible on next tick")
			continue
		}
		if alreadyExisted {
			d.logger.Debug().
				Str("deal_id", dl.ID).
				Str("reminder_type", string(rule.Type)).
				Str("recipient_id", recipient.ID).
				Msg("concurrent dispatcher recorded first")
			continue
		}

		d.logger.Info().
			Str("deal_id", dl.ID).
			Str("reminder_type", string(rule.Type)).
			Str("recipient_id", recipient.ID).
			Msg("reminder dispatched")
	}

	return nil
}

func (d *Dispatcher) buildPayload(dl *deal.Deal, rule reminder.Rule, recipient messaging.Recipient, now time.Time, pending int, hasCommitted bool) messaging.Payload {
	payload := messaging.Payload{
		DealID:       dl.ID,
		DealName:     dl.Name,
		ReminderType: string(rule.Type),
		Role:         string(rule.Role),
		RecipientID:  recipient.ID,
	}

	switch rule.Type {
	case reminder.Approval5d:
		payload.Extra.PendingCount = &pending
	case reminder.WindowClosing1h:
		hours := hoursUntil(dl.CommitmentEndsAt, now)
		payload.Extra.HoursRemaining = &hours
	case reminder.WindowClosing5d, reminder.WindowClosing3d, reminder.WindowClosing1d:
		days := daysUntil(dl.CommitmentEndsAt, now)
		payload.Extra.DaysRemaining = &days
	default:
		days := daysUntil(dl.CommitmentStartAt, now)
		payload.Extra.DaysRemaining = &days
	}

	if rule.Role == reminder.RoleMember && isClosing(rule.Type) {
		committed := hasCommitted
		payload.Extra.HasCommitted = &committed
	}

	return payload
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, dl *deal.Deal, rule reminder.Rule) ([]messaging.Recipient, map[string]bool, error) {
	if rule.Role == reminder.RoleDistributor {
		distributor, err := d.members.GetMember(ctx, dl.DistributorID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve distributor %s: %w", dl.DistributorID, err)
		}
		return []messaging.Recipient{toRecipient(distributor)}, nil, nil
	}

	members, err := d.members.ListActiveMembers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list members: %w", err)
	}

	recipients := make([]messaging.Recipient, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, toRecipient(m))
	}

	// The has-committed split only selects message content; it never
	// affects eligibility or ledger keys.
	var committed map[string]bool
	if isClosing(rule.Type) {
		committed, err = d.commitments.CommittedMemberIDs(ctx, dl.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("committed member ids: %w", err)
		}
	}

	return recipients, committed, nil
}

func toRecipient(m deal.Member) messaging.Recipient {
	return messaging.Recipient{ID: m.ID, Name: m.Name, Email: m.Email}
}

func isClosing(t reminder.Type) bool {
	switch t {
	case reminder.WindowClosing5d, reminder.WindowClosing3d, reminder.WindowClosing1d, reminder.WindowClosing1h:
		return true
	}
	return false
}

func daysUntil(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	return days
}

func hoursUntil(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Hour - 1) / time.Hour)
}
