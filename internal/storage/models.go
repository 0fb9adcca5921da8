package storage

import "time"

// DispatchRecord is one row of the reminder dispatch ledger: the proof
// that a (deal, reminder type, recipient) triple was notified. Records
// are immutable and permanent for the life of the deal.
type DispatchRecord struct {
	DealID       string
	ReminderType string
	RecipientID  string
	SentAt       time.Time
	CreatedAt    time.Time
}
