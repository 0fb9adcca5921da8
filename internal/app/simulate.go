package app

import (
	"context"
	"sync"
	"time"

	"deal-reminders/internal/deal"
	"deal-reminders/internal/dispatch"
	"deal-reminders/internal/messaging"
	"deal-reminders/internal/storage"
)

// SimulateOptions shape the fabricated deal a simulation runs against.
type SimulateOptions struct {
	Status             string
	CommitmentStartsIn time.Duration
	CommitmentEndsIn   time.Duration
	PendingCommitments int
}

// SimulateReminder fabricates a deal with the given window offsets and
// runs one dispatch pass against in-memory stores and the log-only
// sender. Nothing is persisted; the log output shows which reminders
// would fire.
func (a *App) SimulateReminder(ctx context.Context, opts SimulateOptions) error {
	now := time.Now().UTC()

	status := deal.StatusActive
	if opts.Status == string(deal.StatusInactive) {
		status = deal.StatusInactive
	}

	d := &deal.Deal{
		ID:                "simulated-deal",
		Name:              "Simulated Deal",
		DistributorID:     "distributor-1",
		Status:            status,
		DealStartAt:       now.Add(opts.CommitmentStartsIn - 24*time.Hour),
		DealEndsAt:        now.Add(opts.CommitmentEndsIn + 20*24*time.Hour),
		CommitmentStartAt: now.Add(opts.CommitmentStartsIn),
		CommitmentEndsAt:  now.Add(opts.CommitmentEndsIn),
	}

	members := &staticMemberStore{members: []deal.Member{
		{ID: "distributor-1", Name: "Distributor", Email: "distributor@example.com", Active: true},
		{ID: "member-1", Name: "Committed Member", Email: "member1@example.com", Active: true},
		{ID: "member-2", Name: "Uncommitted Member", Email: "member2@example.com", Active: true},
	}}
	commitments := &staticCommitmentStore{
		pending:   opts.PendingCommitments,
		committed: map[string]bool{"member-1": true},
	}

	dispatcher := dispatch.New(a.thresholdTable(), newMemoryLedger(), commitments, members, messaging.NewLogSender(a.Logger), a.Logger)
	return dispatcher.DispatchDue(ctx, d, now)
}

// memoryLedger is an in-process conditional-append ledger for
// simulations and tests. The real engine uses the postgres ledger.
type memoryLedger struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{keys: make(map[string]bool)}
}

func ledgerKey(dealID, reminderType, recipientID string) string {
	return dealID + "|" + reminderType + "|" + recipientID
}

func (l *memoryLedger) HasSent(ctx context.Context, dealID, reminderType, recipientID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[ledgerKey(dealID, reminderType, recipientID)], nil
}

func (l *memoryLedger) RecordSent(ctx context.Context, dealID, reminderType, recipientID string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(dealID, reminderType, recipientID)
	if l.keys[key] {
		return true, nil
	}
	l.keys[key] = true
	return false, nil
}

type staticMemberStore struct {
	members []deal.Member
}

func (s *staticMemberStore) ListActiveMembers(ctx context.Context) ([]deal.Member, error) {
	return s.members, nil
}

func (s *staticMemberStore) GetMember(ctx context.Context, id string) (deal.Member, error) {
	for _, m := range s.members {
		if m.ID == id {
			return m, nil
		}
	}
	return deal.Member{}, storage.ErrNotFound
}

type staticCommitmentStore struct {
	pending   int
	committed map[string]bool
}

func (s *staticCommitmentStore) InsertCommitment(ctx context.Context, c deal.Commitment) (string, error) {
	return "", nil
}

func (s *staticCommitmentStore) UpdateCommitmentStatus(ctx context.Context, commitmentID string, status deal.CommitmentStatus) error {
	return nil
}

func (s *staticCommitmentStore) CountPendingCommitments(ctx context.Context, dealID string) (int, error) {
	return s.pending, nil
}

func (s *staticCommitmentStore) CommittedMemberIDs(ctx context.Context, dealID string) (map[string]bool, error) {
	return s.committed, nil
}

var _ storage.Ledger = (*memoryLedger)(nil)
var _ storage.MemberStore = (*staticMemberStore)(nil)
var _ storage.CommitmentStore = (*staticCommitmentStore)(nil)
