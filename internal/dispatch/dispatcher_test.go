package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deal-reminders/internal/deal"
	"deal-reminders/internal/messaging"
	"deal-reminders/internal/reminder"
	"deal-reminders/internal/storage"
)

type fakeLedger struct {
	mu      sync.Mutex
	keys    map[string]time.Time
	failKey string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{keys: make(map[string]time.Time)}
}

func key(dealID, reminderType, recipientID string) string {
	return dealID + "|" + reminderType + "|" + recipientID
}

func (l *fakeLedger) HasSent(ctx context.Context, dealID, reminderType, recipientID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key(dealID, reminderType, recipientID)]
	return ok, nil
}

func (l *fakeLedger) RecordSent(ctx context.Context, dealID, reminderType, recipientID string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(dealID, reminderType, recipientID)
	if k == l.failKey {
		return false, errors.New("ledger write refused")
	}
	if _, ok := l.keys[k]; ok {
		return true, nil
	}
	l.keys[k] = at
	return false, nil
}

func (l *fakeLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

type sentCall struct {
	recipient   messaging.Recipient
	templateKey string
	payload     messaging.Payload
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

func (s *fakeSender) Send(ctx context.Context, to messaging.Recipient, templateKey string, payload messaging.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, sentCall{recipient: to, templateKey: templateKey, payload: payload})
	return nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSender) callsFor(reminderType string) []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentCall
	for _, c := range s.calls {
		if c.payload.ReminderType == reminderType {
			out = append(out, c)
		}
	}
	return out
}

type fakeMembers struct {
	members []deal.Member
}

func (f *fakeMembers) ListActiveMembers(ctx context.Context) ([]deal.Member, error) {
	return f.members, nil
}

func (f *fakeMembers) GetMember(ctx context.Context, id string) (deal.Member, error) {
	for _, m := range f.members {
		if m.ID == id {
			return m, nil
		}
	}
	return deal.Member{}, storage.ErrNotFound
}

type fakeCommitments struct {
	pending   map[string]int
	committed map[string]map[string]bool
}

func (f *fakeCommitments) InsertCommitment(ctx context.Context, c deal.Commitment) (string, error) {
	return "c-1", nil
}

func (f *fakeCommitments) UpdateCommitmentStatus(ctx context.Context, commitmentID string, status deal.CommitmentStatus) error {
	return nil
}

func (f *fakeCommitments) CountPendingCommitments(ctx context.Context, dealID string) (int, error) {
	return f.pending[dealID], nil
}

func (f *fakeCommitments) CommittedMemberIDs(ctx context.Context, dealID string) (map[string]bool, error) {
	return f.committed[dealID], nil
}

var _ storage.Ledger = (*fakeLedger)(nil)
var _ messaging.Sender = (*fakeSender)(nil)
var _ storage.MemberStore = (*fakeMembers)(nil)
var _ storage.CommitmentStore = (*fakeCommitments)(nil)

func testMembers() *fakeMembers {
	return &fakeMembers{members: []deal.Member{
		{ID: "distributor-1", Name: "Distributor", Email: "d@example.com", Active: true},
		{ID: "member-1", Name: "Alice", Email: "a@example.com", Active: true},
		{ID: "member-2", Name: "Bob", Email: "b@example.com", Active: true},
	}}
}

func newDispatcher(ledger storage.Ledger, commitments storage.CommitmentStore, members storage.MemberStore, sender messaging.Sender) *Dispatcher {
	return New(reminder.DefaultTable(), ledger, commitments, members, sender, zerolog.Nop())
}

func activeDeal(now time.Time) *deal.Deal {
	return &deal.Deal{
		ID:                "deal-1",
		Name:              "March Coffee",
		DistributorID:     "distributor-1",
		Status:            deal.StatusActive,
		DealStartAt:       now.Add(-10 * 24 * time.Hour),
		DealEndsAt:        now.Add(20 * 24 * time.Hour),
		CommitmentStartAt: now.Add(-10 * 24 * time.Hour),
		CommitmentEndsAt:  now.Add(3 * 24 * time.Hour),
	}
}

func TestNoDuplicateDispatchAcrossTicks(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	sender := &fakeSender{}
	commitments := &fakeCommitments{}
	dispatcher := newDispatcher(ledger, commitments, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// Due for both non-distributor members: window_opening_1d,
	// window_closing_5d, window_closing_3d. The distributor is a member
	// row too, so member-scoped reminders reach all three.
	firstTick := sender.callCount()
	if firstTick == 0 {
		t.Fatal("expected dispatches on first tick")
	}
	if ledger.size() != firstTick {
		t.Fatalf("ledger records = %d, sends = %d; must match", ledger.size(), firstTick)
	}

	// Second tick with no state change: everything already recorded.
	if err := dispatcher.DispatchDue(context.Background(), d, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if sender.callCount() != firstTick {
		t.Fatalf("second tick sent %d extra messages", sender.callCount()-firstTick)
	}
	if ledger.size() != firstTick {
		t.Fatalf("second tick grew the ledger to %d", ledger.size())
	}
}

func TestApprovalReminderOneShot(t *testing.T) {
	now := time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC)
	d := activeDeal(now)
	d.CommitmentEndsAt = now.Add(-5 * 24 * time.Hour)
	d.CommitmentStartAt = now.Add(-20 * 24 * time.Hour)

	ledger := newFakeLedger()
	sender := &fakeSender{}
	commitments := &fakeCommitments{pending: map[string]int{"deal-1": 2}}
	dispatcher := newDispatcher(ledger, commitments, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	approvals := sender.callsFor("approval_5d")
	if len(approvals) != 1 {
		t.Fatalf("approval sends = %d, want exactly 1", len(approvals))
	}
	call := approvals[0]
	if call.recipient.ID != "distributor-1" {
		t.Fatalf("approval recipient = %s, want distributor-1", call.recipient.ID)
	}
	if call.payload.Extra.PendingCount == nil || *call.payload.Extra.PendingCount != 2 {
		t.Fatalf("pending count = %v, want 2", call.payload.Extra.PendingCount)
	}

	// Distributor approves both commitments; pending drops to zero. The
	// ledger record, not the pending count, must keep the reminder from
	// re-dispatching.
	commitments.pending["deal-1"] = 0
	if err := dispatcher.DispatchDue(context.Background(), d, now.Add(time.Hour)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := sender.callsFor("approval_5d"); len(got) != 1 {
		t.Fatalf("approval re-dispatched: %d sends", len(got))
	}
}

func TestApprovalSkippedWithoutPendingCommitments(t *testing.T) {
	now := time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC)
	d := activeDeal(now)
	d.CommitmentEndsAt = now.Add(-5 * 24 * time.Hour)
	d.CommitmentStartAt = now.Add(-20 * 24 * time.Hour)

	ledger := newFakeLedger()
	sender := &fakeSender{}
	dispatcher := newDispatcher(ledger, &fakeCommitments{}, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := sender.callsFor("approval_5d"); len(got) != 0 {
		t.Fatalf("approval sent with zero pending commitments: %d", len(got))
	}
}

func TestMemberContentPersonalization(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	sender := &fakeSender{}
	commitments := &fakeCommitments{
		committed: map[string]map[string]bool{"deal-1": {"member-1": true}},
	}
	dispatcher := newDispatcher(ledger, commitments, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	closings := sender.callsFor("window_closing_3d")
	byRecipient := make(map[string]sentCall, len(closings))
	for _, c := range closings {
		byRecipient[c.recipient.ID] = c
	}

	alice, ok := byRecipient["member-1"]
	if !ok {
		t.Fatal("member-1 did not receive window_closing_3d")
	}
	bob, ok := byRecipient["member-2"]
	if !ok {
		t.Fatal("member-2 did not receive window_closing_3d")
	}

	if alice.payload.Extra.HasCommitted == nil || !*alice.payload.Extra.HasCommitted {
		t.Fatal("member-1 should be flagged as committed")
	}
	if bob.payload.Extra.HasCommitted == nil || *bob.payload.Extra.HasCommitted {
		t.Fatal("member-2 should be flagged as not committed")
	}

	for _, id := range []string{"member-1", "member-2"} {
		sent, _ := ledger.HasSent(context.Background(), "deal-1", "window_closing_3d", id)
		if !sent {
			t.Fatalf("no ledger entry for %s", id)
		}
	}
}

func TestFailedSendLeavesLedgerUntouched(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	sender := &fakeSender{err: errors.New("provider unreachable")}
	dispatcher := newDispatcher(ledger, &fakeCommitments{}, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("tick with failing sender: %v", err)
	}
	if ledger.size() != 0 {
		t.Fatalf("ledger has %d records after failed sends", ledger.size())
	}

	// Provider recovers: the next tick retries every reminder.
	sender.err = nil
	if err := dispatcher.DispatchDue(context.Background(), d, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if sender.callCount() == 0 {
		t.Fatal("recovered provider should receive the retried reminders")
	}
	if ledger.size() != sender.callCount() {
		t.Fatalf("ledger records = %d, sends = %d", ledger.size(), sender.callCount())
	}
}

func TestLedgerWriteFailureDoesNotAbortDeal(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	ledger.failKey = key("deal-1", "window_closing_3d", "member-1")
	sender := &fakeSender{}
	dispatcher := newDispatcher(ledger, &fakeCommitments{}, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// member-2's record for the same reminder must still land.
	sent, _ := ledger.HasSent(context.Background(), "deal-1", "window_closing_3d", "member-2")
	if !sent {
		t.Fatal("ledger failure for one recipient aborted the rest")
	}
}

func TestRecordSentConditionalAppend(t *testing.T) {
	ledger := newFakeLedger()
	at := time.Now().UTC()

	already, err := ledger.RecordSent(context.Background(), "deal-1", "posting_1d", "distributor-1", at)
	if err != nil || already {
		t.Fatalf("first append: already=%v err=%v", already, err)
	}
	already, err = ledger.RecordSent(context.Background(), "deal-1", "posting_1d", "distributor-1", at.Add(time.Minute))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if !already {
		t.Fatal("second append must report alreadyExisted")
	}
	if ledger.size() != 1 {
		t.Fatalf("ledger holds %d records, want 1", ledger.size())
	}
}

func TestConcurrentDispatchersSingleRecord(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	commitments := &fakeCommitments{}
	members := testMembers()

	// Two dispatchers sharing one ledger, as two deployed instances
	// racing on the same tick would.
	var wg sync.WaitGroup
	senders := make([]*fakeSender, 2)
	for i := range senders {
		senders[i] = &fakeSender{}
		dispatcher := newDispatcher(ledger, commitments, members, senders[i])
		wg.Add(1)
		go func(dsp *Dispatcher) {
			defer wg.Done()
			if err := dsp.DispatchDue(context.Background(), d, now); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}(dispatcher)
	}
	wg.Wait()

	// Duplicate sends are an accepted race; duplicate records are not.
	total := senders[0].callCount() + senders[1].callCount()
	if ledger.size() > total {
		t.Fatalf("more records (%d) than sends (%d)", ledger.size(), total)
	}
	for _, reminderType := range []string{"window_opening_1d", "window_closing_5d", "window_closing_3d"} {
		for _, m := range members.members {
			sent, _ := ledger.HasSent(context.Background(), d.ID, reminderType, m.ID)
			if !sent {
				t.Fatalf("missing record for %s/%s", reminderType, m.ID)
			}
		}
	}
}

func TestUnregisteredReminderTypeSkippedWithoutAbort(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	sender := &fakeSender{}
	dispatcher := newDispatcher(ledger, &fakeCommitments{}, testMembers(), sender)

	// A rule with no registered template is an operator configuration
	// error: skip it, log it, keep the deal alive.
	rule := reminder.Rule{
		Type:          "flash_extension_6h",
		Role:          reminder.RoleMember,
		Anchor:        reminder.AnchorCommitmentEnd,
		Offset:        -6 * time.Hour,
		RequireStatus: deal.StatusActive,
	}
	if err := dispatcher.dispatchRule(context.Background(), d, rule, now); err != nil {
		t.Fatalf("unregistered reminder type must not fail the deal: %v", err)
	}
	if sender.callCount() != 0 || ledger.size() != 0 {
		t.Fatalf("unregistered reminder type produced sends=%d records=%d", sender.callCount(), ledger.size())
	}

	// The deal's registered reminders still go out.
	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("DispatchDue: %v", err)
	}
	if sender.callCount() == 0 {
		t.Fatal("registered reminders should still dispatch")
	}
}

func TestRenderTimeTemplateMissDoesNotAbortDeal(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now)

	ledger := newFakeLedger()
	sender := &fakeSender{err: fmt.Errorf("render: %w", messaging.ErrTemplateNotFound)}
	dispatcher := newDispatcher(ledger, &fakeCommitments{}, testMembers(), sender)

	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("template miss at render time must not fail the deal: %v", err)
	}
	if ledger.size() != 0 {
		t.Fatalf("ledger has %d records for reminders that never rendered", ledger.size())
	}
}

func TestDistributorResolutionFailureSurfaces(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	d := &deal.Deal{
		ID:                "deal-orphan",
		Name:              "Orphan",
		DistributorID:     "gone",
		Status:            deal.StatusInactive,
		CommitmentStartAt: now.Add(4 * 24 * time.Hour),
		CommitmentEndsAt:  now.Add(14 * 24 * time.Hour),
	}

	dispatcher := newDispatcher(newFakeLedger(), &fakeCommitments{}, testMembers(), &fakeSender{})
	err := dispatcher.DispatchDue(context.Background(), d, now)
	if err == nil {
		t.Fatal("expected error when the distributor cannot be resolved")
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error should wrap storage.ErrNotFound: %v", err)
	}
}

func TestPayloadTimeFields(t *testing.T) {
	now := time.Date(2026, time.March, 7, 18, 0, 0, 0, time.UTC)
	d := activeDeal(now) // commitment closes in exactly 3 days

	sender := &fakeSender{}
	dispatcher := newDispatcher(newFakeLedger(), &fakeCommitments{}, testMembers(), sender)
	if err := dispatcher.DispatchDue(context.Background(), d, now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	closings := sender.callsFor("window_closing_3d")
	if len(closings) == 0 {
		t.Fatal("expected window_closing_3d sends")
	}
	got := closings[0].payload.Extra.DaysRemaining
	if got == nil || *got != 3 {
		t.Fatalf("days remaining = %v, want 3", fmtPtr(got))
	}
}

func fmtPtr(v *int) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d", *v)
}
